package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment variables or config files.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	WSAddr          string        `mapstructure:"WS_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`
	CORSOrigins     string        `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST" validate:"gte=1"`

	LogLevel      string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat     string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB" validate:"gte=1"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS" validate:"gte=0"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS" validate:"gte=0"`

	StoreDriver      string `mapstructure:"STORE_DRIVER" validate:"required,oneof=postgres sqlite mongo"`
	DatabaseURL      string `mapstructure:"DATABASE_URL" validate:"required_unless=StoreDriver mongo"`
	MongoURI         string `mapstructure:"MONGODB_URI" validate:"required_if=StoreDriver mongo"`
	MongoDatabase    string `mapstructure:"MONGODB_DATABASE" validate:"required_if=StoreDriver mongo"`
	RedisAddr        string `mapstructure:"REDIS_ADDR" validate:"required,hostname_port"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`
	EventsChannel    string `mapstructure:"EVENTS_CHANNEL" validate:"required"`
	AsynqConcurrency int    `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`

	JWTSecret string        `mapstructure:"JWT_SECRET" validate:"required,min=16"`
	JWTTTL    time.Duration `mapstructure:"JWT_TTL" validate:"required"`

	AnthropicAPIKey string        `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicURL    string        `mapstructure:"ANTHROPIC_BASE_URL" validate:"omitempty,url"`
	LLMModel        string        `mapstructure:"LLM_MODEL" validate:"required"`
	LLMMaxTokens    int64         `mapstructure:"LLM_MAX_TOKENS" validate:"gte=256"`
	LLMMaxRetries   int           `mapstructure:"LLM_MAX_RETRIES" validate:"gte=0,lte=10"`
	LLMRetryDelay   time.Duration `mapstructure:"LLM_RETRY_DELAY"`
	LLMTimeout      time.Duration `mapstructure:"LLM_TIMEOUT" validate:"required"`

	GitHubToken   string `mapstructure:"GITHUB_TOKEN"`
	GitHubAPIURL  string `mapstructure:"GITHUB_API_URL" validate:"required,url"`
	GitHubOwner   string `mapstructure:"GITHUB_OWNER"`
	GitHubPrivate bool   `mapstructure:"GITHUB_PRIVATE_REPOS"`

	VercelToken  string `mapstructure:"VERCEL_TOKEN"`
	VercelAPIURL string `mapstructure:"VERCEL_API_URL" validate:"required,url"`
	VercelTeamID string `mapstructure:"VERCEL_TEAM_ID"`

	SitesDir             string        `mapstructure:"SITES_DIR" validate:"required"`
	ReadinessTimeout     time.Duration `mapstructure:"READINESS_TIMEOUT" validate:"required"`
	ReadinessMaxInterval time.Duration `mapstructure:"READINESS_MAX_INTERVAL" validate:"required"`
	PipelineTimeout      time.Duration `mapstructure:"PIPELINE_TIMEOUT" validate:"required"`
	ReconcileSchedule    string        `mapstructure:"RECONCILE_SCHEDULE" validate:"required"`
	ReconcileGrace       time.Duration `mapstructure:"RECONCILE_GRACE"`
	OutboundRPS          float64       `mapstructure:"OUTBOUND_RPS" validate:"gt=0"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())
)

var keys = []string{
	"APP_ENV", "HTTP_ADDR", "WS_ADDR", "SHUTDOWN_TIMEOUT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
	"STORE_DRIVER", "DATABASE_URL", "MONGODB_URI", "MONGODB_DATABASE",
	"REDIS_ADDR", "REDIS_PASSWORD", "EVENTS_CHANNEL", "ASYNQ_CONCURRENCY",
	"JWT_SECRET", "JWT_TTL",
	"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "LLM_MODEL", "LLM_MAX_TOKENS", "LLM_MAX_RETRIES", "LLM_RETRY_DELAY", "LLM_TIMEOUT",
	"GITHUB_TOKEN", "GITHUB_API_URL", "GITHUB_OWNER", "GITHUB_PRIVATE_REPOS",
	"VERCEL_TOKEN", "VERCEL_API_URL", "VERCEL_TEAM_ID",
	"SITES_DIR", "READINESS_TIMEOUT", "READINESS_MAX_INTERVAL", "PIPELINE_TIMEOUT", "RECONCILE_SCHEDULE", "RECONCILE_GRACE", "OUTBOUND_RPS",
	"GOMAXPROCS",
}

// Load initializes configuration using Viper. It loads from .env if present,
// applies defaults, binds env vars, and validates the result.
func Load() (*Config, error) {
	// Load .env if present (non-fatal)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:5000")
	v.SetDefault("WS_ADDR", "0.0.0.0:5001")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 14)
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("MONGODB_DATABASE", "pbn")
	v.SetDefault("EVENTS_CHANNEL", "pbn:events")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("JWT_TTL", "1h")
	v.SetDefault("LLM_MODEL", "claude-sonnet-4-5")
	v.SetDefault("LLM_MAX_TOKENS", 8192)
	v.SetDefault("LLM_MAX_RETRIES", 3)
	v.SetDefault("LLM_RETRY_DELAY", "20s")
	v.SetDefault("LLM_TIMEOUT", "90s")
	v.SetDefault("GITHUB_API_URL", "https://api.github.com")
	v.SetDefault("VERCEL_API_URL", "https://api.vercel.com")
	v.SetDefault("SITES_DIR", "./sites")
	v.SetDefault("READINESS_TIMEOUT", "2m")
	v.SetDefault("READINESS_MAX_INTERVAL", "10s")
	v.SetDefault("PIPELINE_TIMEOUT", "15m")
	v.SetDefault("RECONCILE_SCHEDULE", "@every 1m")
	v.SetDefault("RECONCILE_GRACE", "1m")
	v.SetDefault("OUTBOUND_RPS", 5)
	v.SetDefault("GOMAXPROCS", 0)

	// Optional config file
	_ = v.ReadInConfig()

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// IsDevelopment reports whether verbose diagnostics (gorm warnings, console logs) are appropriate.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "test"
}
