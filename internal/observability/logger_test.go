package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "info level", level: "info", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
		{name: "level is case insensitive", level: " WARN ", debugEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("logger should not be nil")
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("not-a-level")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestRunID_ContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithRun(context.Background(), "run-123", "twilio")
	runID, ok := RunIDFromContext(ctx)
	if !ok {
		t.Fatal("expected run id to exist")
	}
	if runID != "run-123" {
		t.Fatalf("run id=%q, want=%q", runID, "run-123")
	}
}

func TestRunID_MissingOrEmptyValue(t *testing.T) {
	t.Parallel()

	if _, ok := RunIDFromContext(context.Background()); ok {
		t.Fatal("expected run id to be missing")
	}
	if _, ok := RunIDFromContext(WithRun(context.Background(), "", "twilio")); ok {
		t.Fatal("expected empty run id to be treated as missing")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	ctx := WithRun(context.Background(), "run-789", "ses")
	WithContextLogger(baseLogger, ctx).Info("message with run")
	WithContextLogger(baseLogger, context.Background()).Info("message without run")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want=2", len(entries))
	}
	if got := entries[0].ContextMap()["runId"]; got != "run-789" {
		t.Fatalf("runId=%v, want=%q", got, "run-789")
	}
	if _, ok := entries[1].ContextMap()["runId"]; ok {
		t.Fatal("expected runId field to be absent")
	}
}

func TestRunFields(t *testing.T) {
	t.Parallel()

	if fields := RunFields(context.Background()); fields != nil {
		t.Fatalf("fields=%v, want nil", fields)
	}

	core, recorded := observer.New(zapcore.InfoLevel)
	ctx := WithRun(context.Background(), "run-1", "EMAILJS")
	zap.New(core).With(RunFields(ctx)...).Info("run message", Recipient(3, "bob@example.com"))

	entry := recorded.All()[0]
	fields := entry.ContextMap()
	if fields["runId"] != "run-1" || fields["provider"] != "EMAILJS" {
		t.Fatalf("fields=%v, want runId and provider", fields)
	}
	recipient, ok := fields["recipient"].(map[string]interface{})
	if !ok {
		t.Fatalf("recipient=%T, want map", fields["recipient"])
	}
	if recipient["index"] != int64(3) || recipient["address"] != "***@example.com" {
		t.Fatalf("recipient=%v", recipient)
	}
}

func TestWithContextLogger_NilLogger(t *testing.T) {
	t.Parallel()

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}

func TestRedactAddress(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want string
	}{
		{in: "+41791234567", want: "***4567"},
		{in: " alice@example.com ", want: "***@example.com"},
		{in: "123", want: "***"},
		{in: "", want: ""},
	}

	for _, tc := range testCases {
		if got := RedactAddress(tc.in); got != tc.want {
			t.Fatalf("RedactAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
