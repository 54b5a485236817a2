package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Refund      RefundConfig      `mapstructure:"refund"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GatewayConfig holds payment gateway configuration.
type GatewayConfig struct {
	Stripe StripeConfig `mapstructure:"stripe"`

	// Outbound call discipline.
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// IdempotencyConfig holds idempotency service configuration.
type IdempotencyConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

// RefundConfig holds refund policy configuration.
type RefundConfig struct {
	MaxRefundPeriod time.Duration `mapstructure:"max_refund_period"`
}

// JobsConfig holds async job queue configuration.
type JobsConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	WebhookConcurrency int           `mapstructure:"webhook_concurrency"`
	WebhookRatePerSec  int           `mapstructure:"webhook_rate_per_sec"`
	WebhookBackoff     time.Duration `mapstructure:"webhook_backoff"`
	InvoiceConcurrency int           `mapstructure:"invoice_concurrency"`
	InvoiceBackoff     time.Duration `mapstructure:"invoice_backoff"`
	SyncConcurrency    int           `mapstructure:"sync_concurrency"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	ExpirySweepEvery   time.Duration `mapstructure:"expiry_sweep_every"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/chargehub")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("CHARGEHUB")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if key := os.Getenv("CHARGEHUB_STRIPE_API_KEY"); key != "" {
		cfg.Gateway.Stripe.APIKey = key
	}
	if secret := os.Getenv("CHARGEHUB_STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Gateway.Stripe.WebhookSecret = secret
	}
	if password := os.Getenv("CHARGEHUB_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("CHARGEHUB_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "chargehub")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Gateway defaults
	v.SetDefault("gateway.call_timeout", 15*time.Second)
	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.retry_base_delay", time.Second)

	// Idempotency defaults
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.sweep_interval", time.Hour)
	v.SetDefault("idempotency.lock_ttl", 30*time.Second)

	// Refund defaults
	v.SetDefault("refund.max_refund_period", 90*24*time.Hour)

	// Job queue defaults
	v.SetDefault("jobs.poll_interval", time.Second)
	v.SetDefault("jobs.webhook_concurrency", 5)
	v.SetDefault("jobs.webhook_rate_per_sec", 20)
	v.SetDefault("jobs.webhook_backoff", 2*time.Second)
	v.SetDefault("jobs.invoice_concurrency", 2)
	v.SetDefault("jobs.invoice_backoff", time.Second)
	v.SetDefault("jobs.sync_concurrency", 2)
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("jobs.retry_backoff", 5*time.Second)
	v.SetDefault("jobs.expiry_sweep_every", time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
