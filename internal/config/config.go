// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, persistence, rate limiting, the reply
// pipeline (scheduler, generator, mailbox provider) and observability.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS" envDefault:"false"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" envDefault:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"autoreply-backend"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1.0"`
}

// SchedulerConfig controls the periodic reply-job processor.
type SchedulerConfig struct {
	Interval         time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1m"`
	BatchSize        int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"10"`
	Concurrency      int           `env:"SCHEDULER_CONCURRENCY" envDefault:"4"`
	JobTimeout       time.Duration `env:"JOB_TIMEOUT" envDefault:"60s"`
	LeaseGrace       time.Duration `env:"JOB_LEASE_GRACE" envDefault:"5m"`
	Retention        time.Duration `env:"JOB_RETENTION" envDefault:"24h"`
	PurgeInterval    time.Duration `env:"JOB_PURGE_INTERVAL" envDefault:"1h"`
	MaxRetries       int           `env:"JOB_MAX_RETRIES" envDefault:"3"`
	RetryBackoffBase float64       `env:"RETRY_BACKOFF_BASE" envDefault:"2"`
}

// GeneratorConfig controls reply generation and the AI provider.
type GeneratorConfig struct {
	APIURL      string        `env:"AI_API_URL" envDefault:"https://api.openai.com/v1/chat/completions"`
	APIKey      string        `env:"AI_API_KEY"`
	Model       string        `env:"AI_MODEL" envDefault:"gpt-4o-mini"`
	MaxTokens   int           `env:"AI_MAX_TOKENS" envDefault:"300"`
	Temperature float64       `env:"AI_TEMPERATURE" envDefault:"0.7"`
	Timeout     time.Duration `env:"AI_TIMEOUT" envDefault:"20s"`
	RatePerMin  int           `env:"AI_RATE_PER_MIN" envDefault:"20"`
	CacheSize   int           `env:"AI_CACHE_SIZE" envDefault:"500"`
	CacheTTL    time.Duration `env:"AI_CACHE_TTL" envDefault:"24h"`
}

// MailboxConfig controls the Gmail provider and push subscriptions.
type MailboxConfig struct {
	ClientID         string        `env:"GOOGLE_CLIENT_ID"`
	ClientSecret     string        `env:"GOOGLE_CLIENT_SECRET"`
	PubSubTopic      string        `env:"GMAIL_PUBSUB_TOPIC"`
	WatchRenewBuffer time.Duration `env:"WATCH_RENEW_BUFFER" envDefault:"24h"`
	FetchMaxAttempts int           `env:"FETCH_MAX_ATTEMPTS" envDefault:"3"`
	FetchBaseDelay   time.Duration `env:"FETCH_BASE_DELAY" envDefault:"500ms"`
}

// EventsConfig controls optional AMQP publishing of job events.
type EventsConfig struct {
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"autoreply.events"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `env:"PORT" envDefault:"8080"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	GinMode           string        `env:"GIN_MODE" envDefault:"release"`

	// Logging / Docs
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	SwaggerEnabled bool   `env:"SWAGGER_ENABLED" envDefault:"false"`
	APIBasePath    string `env:"API_BASE_PATH" envDefault:"/api/v1"`

	// Persistence
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"` // sqlite|postgres
	DBPath      string `env:"DB_PATH" envDefault:"autoreply.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Edge rate limiting (per client IP)
	RateRPS   float64 `env:"RATE_RPS" envDefault:"20"`
	RateBurst int     `env:"RATE_BURST" envDefault:"40"`

	// Webhook ingress
	WebhookRatePerMin int           `env:"WEBHOOK_RATE_PER_MIN" envDefault:"60"`
	NotificationTTL   time.Duration `env:"NOTIFICATION_TTL" envDefault:"24h"`

	// Filter rules file (YAML); empty uses the built-in rules
	FilterRulesPath string `env:"FILTER_RULES_PATH"`

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Pipeline
	Scheduler SchedulerConfig
	Generator GeneratorConfig
	Mailbox   MailboxConfig
	Events    EventsConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment (optionally seeded from a
// .env file), applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// --- normalization ---
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.GinMode = strings.ToLower(strings.TrimSpace(cfg.GinMode))
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)

	return cfg, cfg.Validate()
}

// Validate checks value ranges and cross-field constraints.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.WebhookRatePerMin < 1 {
		return errors.New("WEBHOOK_RATE_PER_MIN must be >= 1")
	}
	if cfg.NotificationTTL <= 0 {
		return errors.New("NOTIFICATION_TTL must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}

	s := cfg.Scheduler
	if s.Interval <= 0 || s.JobTimeout <= 0 || s.LeaseGrace <= 0 || s.Retention <= 0 || s.PurgeInterval <= 0 {
		return errors.New("scheduler durations must be positive")
	}
	if s.LeaseGrace <= s.JobTimeout {
		return errors.New("JOB_LEASE_GRACE must be greater than JOB_TIMEOUT")
	}
	if s.BatchSize < 1 || s.Concurrency < 1 {
		return errors.New("SCHEDULER_BATCH_SIZE and SCHEDULER_CONCURRENCY must be >= 1")
	}
	if s.MaxRetries < 1 {
		return errors.New("JOB_MAX_RETRIES must be >= 1")
	}
	if s.RetryBackoffBase <= 1 {
		return errors.New("RETRY_BACKOFF_BASE must be > 1")
	}

	g := cfg.Generator
	if g.MaxTokens < 1 {
		return errors.New("AI_MAX_TOKENS must be >= 1")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		return errors.New("AI_TEMPERATURE must be in [0,2]")
	}
	if g.RatePerMin < 0 {
		return errors.New("AI_RATE_PER_MIN must be >= 0")
	}
	if g.CacheSize < 0 || g.CacheTTL < 0 {
		return errors.New("AI_CACHE_SIZE and AI_CACHE_TTL must be >= 0")
	}
	if g.Timeout <= 0 {
		return errors.New("AI_TIMEOUT must be > 0")
	}

	m := cfg.Mailbox
	if m.FetchMaxAttempts < 1 {
		return errors.New("FETCH_MAX_ATTEMPTS must be >= 1")
	}
	if m.WatchRenewBuffer <= 0 {
		return errors.New("WATCH_RENEW_BUFFER must be > 0")
	}

	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// AIEnabled reports whether an AI provider key is configured.
func (cfg Config) AIEnabled() bool {
	return strings.TrimSpace(cfg.Generator.APIKey) != ""
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
