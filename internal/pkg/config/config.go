package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	JobsModeInline = "inline"
	JobsModeRedis  = "redis"

	DatabaseDriverMySQL  = "mysql"
	DatabaseDriverSQLite = "sqlite"
)

// Config is built once at startup and handed to every component that needs it.
type Config struct {
	App       App       `envPrefix:"APP_"`
	Database  Database  `envPrefix:"DB_"`
	Cache     Cache     `envPrefix:"CACHE_"`
	Stripe    Stripe    `envPrefix:"STRIPE_"`
	Gateway   Gateway   `envPrefix:"GATEWAY_"`
	Jobs      Jobs      `envPrefix:"JOBS_"`
	Notify    Notify    `envPrefix:"NOTIFY_"`
	SMTP      SMTP      `envPrefix:"SMTP_"`
	Promotion Promotion `envPrefix:"PROMOTION_"`
	Catalog   Catalog   `envPrefix:"CATALOG_"`
	Archive   Archive   `envPrefix:"ARCHIVE_"`
	Admin     Admin     `envPrefix:"ADMIN_"`
}

type App struct {
	Env  string `env:"ENV" envDefault:"prod"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"3002"`
	// Requests per minute per client on the public API group.
	RateLimit int `env:"RATE_LIMIT" envDefault:"120"`
}

type Database struct {
	Driver   string `env:"DRIVER" envDefault:"mysql"`
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     string `env:"PORT" envDefault:"3306"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME" envDefault:"paycore"`
	// Used by the sqlite driver only.
	Path string `env:"PATH" envDefault:"paycore.db"`
}

type Cache struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type Stripe struct {
	SecretKey        string        `env:"SECRET_KEY"`
	WebhookSecret    string        `env:"WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
}

type Gateway struct {
	Attempts  int           `env:"ATTEMPTS" envDefault:"3"`
	BaseDelay time.Duration `env:"BASE_DELAY" envDefault:"1s"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type Jobs struct {
	Mode    string `env:"MODE" envDefault:"inline"`
	Workers int    `env:"WORKERS" envDefault:"3"`
}

type Notify struct {
	DiscordWebhookURL string        `env:"DISCORD_WEBHOOK_URL"`
	Timeout           time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type SMTP struct {
	Host     string `env:"HOST"`
	Port     string `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	Sender   string `env:"SENDER"`
}

type Promotion struct {
	URL     string        `env:"URL"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type Catalog struct {
	Path string `env:"PATH" envDefault:"catalog.yml"`
}

type Archive struct {
	Enabled         bool   `env:"ENABLED" envDefault:"false"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Region          string `env:"REGION" envDefault:"us-east-1"`
	BucketName      string `env:"BUCKET_NAME"`
	EndpointURL     string `env:"ENDPOINT_URL"`
}

type Admin struct {
	Username     string `env:"USERNAME" envDefault:"admin"`
	PasswordHash string `env:"PASSWORD_HASH"`
}

// Load parses the process environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Jobs.Mode) {
	case JobsModeInline, JobsModeRedis:
	default:
		return fmt.Errorf("JOBS_MODE must be %q or %q, got %q", JobsModeInline, JobsModeRedis, c.Jobs.Mode)
	}
	switch strings.ToLower(c.Database.Driver) {
	case DatabaseDriverMySQL, DatabaseDriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DatabaseDriverMySQL, DatabaseDriverSQLite, c.Database.Driver)
	}
	if c.Gateway.Attempts <= 0 {
		return errors.New("GATEWAY_ATTEMPTS must be positive")
	}
	if c.Stripe.WebhookTolerance <= 0 {
		return errors.New("STRIPE_WEBHOOK_TOLERANCE must be positive")
	}
	if c.Archive.Enabled {
		if c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "" || c.Archive.BucketName == "" {
			return errors.New("ARCHIVE_ACCESS_KEY_ID, ARCHIVE_SECRET_ACCESS_KEY and ARCHIVE_BUCKET_NAME are required when the archive is enabled")
		}
	}
	return nil
}

// IsDev reports whether the app runs in the development environment.
func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}
