package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	AppEnv         string `envconfig:"APP_ENV" default:"production"`
	HTTPListenAddr string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`

	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"mysql"`
	DatabaseDSN    string `envconfig:"DATABASE_DSN" required:"true"`

	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL          time.Duration `envconfig:"JWT_TTL" default:"24h"`
	StartingCredits int           `envconfig:"STARTING_CREDITS" default:"10"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	StripeSuccessURL    string `envconfig:"STRIPE_SUCCESS_URL" default:"http://localhost:3000/payment/success"`
	StripeCancelURL     string `envconfig:"STRIPE_CANCEL_URL" default:"http://localhost:3000/payment/cancel"`
	PaymentCurrency     string `envconfig:"PAYMENT_CURRENCY" default:"usd"`

	FalKey            string        `envconfig:"FAL_KEY" required:"true"`
	FalQueueURL       string        `envconfig:"FAL_QUEUE_URL" default:"https://queue.fal.run"`
	FalPollInterval   time.Duration `envconfig:"FAL_POLL_INTERVAL" default:"2s"`
	FalMaxPolls       int           `envconfig:"FAL_MAX_POLLS" default:"300"`
	RequestTimeout    time.Duration `envconfig:"HTTP_TIMEOUT" default:"60s"`
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"15m"`
	PollAllowedHosts  []string      `envconfig:"POLL_ALLOWED_HOSTS" default:"queue.fal.run,fal.run"`

	S3Endpoint      string `envconfig:"S3_ENDPOINT"`
	S3Region        string `envconfig:"S3_REGION" required:"true"`
	S3AccessKey     string `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey     string `envconfig:"S3_SECRET_KEY" required:"true"`
	S3Bucket        string `envconfig:"S3_BUCKET" required:"true"`
	S3PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL" required:"true"`
	S3UsePathStyle  bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	S3Prefix        string `envconfig:"S3_PREFIX" default:"users"`
	UploadMaxBytes  int64  `envconfig:"UPLOAD_MAX_BYTES" default:"26214400"`

	ArchiveMaxAttempts   int    `envconfig:"ARCHIVE_MAX_ATTEMPTS" default:"5"`
	ArchiveSweepSchedule string `envconfig:"ARCHIVE_SWEEP_SCHEDULE" default:"@every 1m"`
	ArchiveWorkers       int    `envconfig:"ARCHIVE_WORKERS" default:"4"`

	PromoBonusCredits int `envconfig:"PROMO_BONUS_CREDITS" default:"50"`

	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"30"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	// TrustProxy honors X-Forwarded-For and X-Real-IP. Enable only behind a
	// reverse proxy that overwrites them.
	TrustProxy bool `envconfig:"TRUST_PROXY" default:"false"`

	TelegramAlertBotToken string `envconfig:"TELEGRAM_ALERT_BOT_TOKEN"`
	TelegramAlertChatID   int64  `envconfig:"TELEGRAM_ALERT_CHAT_ID"`
}

// Load reads configuration from an optional env file and the process
// environment, applying defaults and validating the result.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every cross-field problem at once.
func (c Config) Validate() error {
	var problems []string
	// envconfig accepts variables that are set but empty.
	for _, v := range []struct{ name, value string }{
		{"DATABASE_DSN", c.DatabaseDSN},
		{"STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret},
		{"FAL_KEY", c.FalKey},
		{"S3_BUCKET", c.S3Bucket},
	} {
		if strings.TrimSpace(v.value) == "" {
			problems = append(problems, v.name+" is required")
		}
	}
	switch c.DatabaseDriver {
	case "mysql", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("DATABASE_DRIVER must be mysql or sqlite, got %q", c.DatabaseDriver))
	}
	if len(c.JWTSecret) < 16 {
		problems = append(problems, "JWT_SECRET must be at least 16 characters")
	}
	if c.JWTTTL <= 0 {
		problems = append(problems, "JWT_TTL must be positive")
	}
	if c.StartingCredits < 0 {
		problems = append(problems, "STARTING_CREDITS cannot be negative")
	}
	if c.FalPollInterval <= 0 || c.FalMaxPolls <= 0 {
		problems = append(problems, "FAL_POLL_INTERVAL and FAL_MAX_POLLS must be positive")
	}
	if c.ArchiveMaxAttempts <= 0 || c.ArchiveWorkers <= 0 {
		problems = append(problems, "ARCHIVE_MAX_ATTEMPTS and ARCHIVE_WORKERS must be positive")
	}
	if c.UploadMaxBytes <= 0 {
		problems = append(problems, "UPLOAD_MAX_BYTES must be positive")
	}
	if c.PromoBonusCredits <= 0 {
		problems = append(problems, "PROMO_BONUS_CREDITS must be positive")
	}
	if (c.TelegramAlertBotToken == "") != (c.TelegramAlertChatID == 0) {
		problems = append(problems, "TELEGRAM_ALERT_BOT_TOKEN and TELEGRAM_ALERT_CHAT_ID must be set together")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Development reports whether the service runs with developer ergonomics.
func (c Config) Development() bool {
	return c.AppEnv == "development"
}

func (c *Config) normalize() {
	c.FalQueueURL = normalizeBaseURL(c.FalQueueURL, "https://queue.fal.run")
	c.PaymentCurrency = strings.ToLower(strings.TrimSpace(c.PaymentCurrency))
	hosts := c.PollAllowedHosts[:0]
	for _, h := range c.PollAllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	c.PollAllowedHosts = hosts
}

// normalizeBaseURL adds a missing scheme and strips trailing slashes so
// callers can join paths without double separators.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		// Real environment wins over the file.
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
