// Package config loads lead-intake configuration and initializes logging.
package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Webhooks   WebhooksConfig   `yaml:"webhooks" mapstructure:"webhooks"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Sentry     SentryConfig     `yaml:"sentry" mapstructure:"sentry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// AnthropicConfig holds the scoring model credentials.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model" validate:"required"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gt=0"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
}

// ScoringConfig tunes the AI scorer and its fallback.
type ScoringConfig struct {
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=1"`
	RatePerSecond    float64 `yaml:"rate_per_second" mapstructure:"rate_per_second" validate:"gt=0"`
	Burst            int     `yaml:"burst" mapstructure:"burst" validate:"gt=0"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gt=0"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold" validate:"gt=0"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs" validate:"gt=0"`
	DetachedTimeout  int     `yaml:"detached_timeout_secs" mapstructure:"detached_timeout_secs" validate:"gt=0"`
	ProfilesPath     string  `yaml:"profiles_path" mapstructure:"profiles_path" validate:"omitempty,file"`
	Disabled         bool    `yaml:"disabled" mapstructure:"disabled"`
}

// WebhooksConfig holds the shared secrets for inbound webhooks.
type WebhooksConfig struct {
	VerifyToken string `yaml:"verify_token" mapstructure:"verify_token"`
	GoogleKey   string `yaml:"google_key" mapstructure:"google_key"`
}

// NormalizeConfig configures contact normalization.
type NormalizeConfig struct {
	DefaultCountryCode string `yaml:"default_country_code" mapstructure:"default_country_code" validate:"required,numeric,max=3"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port" validate:"gt=0,lt=65536"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs" validate:"gt=0"`
	MaxBodyBytes       int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gt=0"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string  `yaml:"dsn" mapstructure:"dsn"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
	SampleRate  float64 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// MonitoringConfig configures the background scoring-health checker.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gt=0"`
	FallbackRateThreshold float64 `yaml:"fallback_rate_threshold" mapstructure:"fallback_rate_threshold" validate:"gte=0,lte=1"`
	RetryBacklogThreshold int     `yaml:"retry_backlog_threshold" mapstructure:"retry_backlog_threshold" validate:"gte=0"`
	MinLeads              int     `yaml:"min_leads" mapstructure:"min_leads" validate:"gte=0"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
}

// Load reads configuration from .env, config.yaml and LEADS_* environment
// variables, in increasing precedence.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("scoring.timeout_secs", 10)
	v.SetDefault("scoring.temperature", 0.3)
	v.SetDefault("scoring.rate_per_second", 5)
	v.SetDefault("scoring.burst", 10)
	v.SetDefault("scoring.max_attempts", 2)
	v.SetDefault("scoring.breaker_threshold", 5)
	v.SetDefault("scoring.breaker_reset_secs", 30)
	v.SetDefault("scoring.detached_timeout_secs", 60)
	v.SetDefault("scoring.profiles_path", "")
	v.SetDefault("scoring.disabled", false)
	v.SetDefault("webhooks.verify_token", "")
	v.SetDefault("webhooks.google_key", "")
	v.SetDefault("normalize.default_country_code", "91")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.sample_rate", 1.0)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.fallback_rate_threshold", 0.5)
	v.SetDefault("monitoring.retry_backlog_threshold", 25)
	v.SetDefault("monitoring.min_leads", 0)
	v.SetDefault("monitoring.webhook_url", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

type section struct {
	name string
	val  any
}

// Validate checks the sections a command needs. Modes: serve, migrate,
// rescore, ingest.
func (c *Config) Validate(mode string) error {
	sections := []section{{"store", c.Store}}
	switch mode {
	case "migrate":
	case "rescore", "ingest":
		sections = append(sections,
			section{"anthropic", c.Anthropic},
			section{"scoring", c.Scoring},
			section{"normalize", c.Normalize},
		)
	case "serve":
		sections = append(sections,
			section{"anthropic", c.Anthropic},
			section{"scoring", c.Scoring},
			section{"normalize", c.Normalize},
			section{"server", c.Server},
			section{"log", c.Log},
			section{"sentry", c.Sentry},
			section{"monitoring", c.Monitoring},
		)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var msgs []string
	for _, sec := range sections {
		msgs = append(msgs, validationMessages(sec.name, validate.Struct(sec.val))...)
	}
	if mode == "serve" && c.Webhooks.VerifyToken == "" {
		msgs = append(msgs, "webhooks.verify_token is required")
	}
	if len(msgs) > 0 {
		return eris.Errorf("config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func validationMessages(prefix string, err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{prefix + ": " + err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := prefix + "." + fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, field+" must be one of "+fe.Param())
		default:
			rule := fe.Tag()
			if fe.Param() != "" {
				rule += "=" + fe.Param()
			}
			msgs = append(msgs, field+" failed "+rule)
		}
	}
	return msgs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
