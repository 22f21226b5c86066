package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ServiceName = "campaign-dispatcher"

type runScopeKey struct{}

// runScope is the per-run logging context attached by the run service.
type runScope struct {
	runID    string
	provider string
}

// NewLogger builds the JSON production logger. Sampling is off: per-recipient lines of a
// large run must not be dropped.
func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.Sampling = nil
	cfg.InitialFields = map[string]interface{}{"service": ServiceName}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return zapcore.InfoLevel, nil
	}

	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

// WithRun tags ctx with the dispatch run and provider it belongs to.
func WithRun(ctx context.Context, runID string, provider string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runScopeKey{}, runScope{runID: runID, provider: provider})
}

func RunIDFromContext(ctx context.Context) (string, bool) {
	scope, ok := scopeFromContext(ctx)
	if !ok || scope.runID == "" {
		return "", false
	}
	return scope.runID, true
}

// WithContextLogger adds the runId field carried by ctx. The provider is not repeated
// because engine loggers already carry it.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	runID, ok := RunIDFromContext(ctx)
	if !ok {
		return logger
	}
	return logger.With(zap.String("runId", runID))
}

// RunFields returns the fields identifying the run in ctx, for loggers that were not built
// by an engine.
func RunFields(ctx context.Context) []zap.Field {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		return nil
	}

	fields := make([]zap.Field, 0, 2)
	if scope.runID != "" {
		fields = append(fields, zap.String("runId", scope.runID))
	}
	if scope.provider != "" {
		fields = append(fields, zap.String("provider", scope.provider))
	}
	return fields
}

// Recipient identifies a recipient by position and redacted address.
func Recipient(index int, address string) zap.Field {
	return zap.Dict("recipient",
		zap.Int("index", index),
		zap.String("address", RedactAddress(address)),
	)
}

func scopeFromContext(ctx context.Context) (runScope, bool) {
	if ctx == nil {
		return runScope{}, false
	}
	scope, ok := ctx.Value(runScopeKey{}).(runScope)
	return scope, ok
}

// RedactAddress keeps the last four characters of a phone number or the domain of an
// email address so log lines can be correlated without leaking the recipient.
func RedactAddress(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return ""
	}

	if at := strings.LastIndex(trimmed, "@"); at > 0 {
		return "***" + trimmed[at:]
	}

	runes := []rune(trimmed)
	if len(runes) <= 4 {
		return "***"
	}
	return "***" + string(runes[len(runes)-4:])
}
