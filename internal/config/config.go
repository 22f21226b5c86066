package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
)

const (
	RateLimitScopeShared = "shared"
	RateLimitScopeLocal  = "local"
)

const (
	CredentialStoreRedis  = "redis"
	CredentialStoreFile   = "file"
	CredentialStoreMemory = "memory"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	// RabbitMQURL is optional; run events are not published when empty.
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	CredentialStore    string `env:"CREDENTIAL_STORE,default=redis"`
	CredentialFile     string `env:"CREDENTIAL_FILE,default=credentials.yaml"`
	DefaultPhoneRegion string `env:"DEFAULT_PHONE_REGION,default=CH"`

	TwilioBaseURL       string `env:"TWILIO_BASE_URL,default=https://api.twilio.com"`
	TwilioAddressScheme string `env:"TWILIO_ADDRESS_SCHEME,default=whatsapp"`
	EmailJSBaseURL      string `env:"EMAILJS_BASE_URL,default=https://api.emailjs.com"`
	SESEndpoint         string `env:"SES_ENDPOINT"`

	ChatSendDelayRaw   string `env:"CHAT_SEND_DELAY,default=500ms"`
	EmailSendDelayRaw  string `env:"EMAIL_SEND_DELAY,default=200ms"`
	ProviderTimeoutRaw string `env:"PROVIDER_TIMEOUT,default=10s"`
	ShutdownTimeoutRaw string `env:"SHUTDOWN_TIMEOUT,default=15s"`

	// ProviderRateLimitPerSec enables the shared Redis throttle when positive.
	ProviderRateLimitPerSec int    `env:"PROVIDER_RATE_LIMIT_PER_SEC,default=0"`
	ProviderRateLimitScope  string `env:"PROVIDER_RATE_LIMIT_SCOPE,default=shared"`

	ChatSendDelay   time.Duration
	EmailSendDelay  time.Duration
	ProviderTimeout time.Duration
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.CredentialStore = strings.ToLower(strings.TrimSpace(c.CredentialStore))
	switch c.CredentialStore {
	case CredentialStoreRedis, CredentialStoreMemory:
	case CredentialStoreFile:
		if strings.TrimSpace(c.CredentialFile) == "" {
			return fmt.Errorf("%w: CREDENTIAL_FILE is required for the file credential store", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported CREDENTIAL_STORE %q", domain.ErrValidation, c.CredentialStore)
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("%w: API_PORT %d out of range", domain.ErrValidation, c.APIPort)
	}
	if c.ProviderRateLimitPerSec < 0 {
		return fmt.Errorf("%w: PROVIDER_RATE_LIMIT_PER_SEC must be >= 0", domain.ErrValidation)
	}
	c.ProviderRateLimitScope = strings.ToLower(strings.TrimSpace(c.ProviderRateLimitScope))
	if c.ProviderRateLimitScope != RateLimitScopeShared && c.ProviderRateLimitScope != RateLimitScopeLocal {
		return fmt.Errorf("%w: unsupported PROVIDER_RATE_LIMIT_SCOPE %q", domain.ErrValidation, c.ProviderRateLimitScope)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{name: "CHAT_SEND_DELAY", raw: c.ChatSendDelayRaw, dst: &c.ChatSendDelay},
		{name: "EMAIL_SEND_DELAY", raw: c.EmailSendDelayRaw, dst: &c.EmailSendDelay},
		{name: "PROVIDER_TIMEOUT", raw: c.ProviderTimeoutRaw, dst: &c.ProviderTimeout},
		{name: "SHUTDOWN_TIMEOUT", raw: c.ShutdownTimeoutRaw, dst: &c.ShutdownTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrValidation, d.name, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%w: %s must not be negative", domain.ErrValidation, d.name)
		}
		*d.dst = parsed
	}

	return nil
}
