package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the newsletter engine. It is loaded
// once at startup and passed explicitly into constructors; no package reads
// configuration from ambient globals.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Mailer   MailerConfig   `yaml:"mailer"`
	Queue    QueueConfig    `yaml:"queue"`
	Lists    ListsConfig    `yaml:"lists"`
	Tracking TrackingConfig `yaml:"tracking"`
}

// ServerConfig holds the admin/query API settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds settings for the send rate limiter. When disabled the
// dispatcher runs without a rate cap.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// MailerConfig selects and configures the delivery transport.
// Transport is one of "smtp", "ses", or "log".
type MailerConfig struct {
	Transport string `yaml:"transport"`

	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`

	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`

	SESAccessKey string `yaml:"ses_access_key"`
	SESSecretKey string `yaml:"ses_secret_key"`
	SESRegion    string `yaml:"ses_region"`
}

// QueueConfig holds the enqueue and dispatch tuning knobs. Zero values are
// replaced with the documented defaults at load time.
type QueueConfig struct {
	ChunkSize          int `yaml:"chunk_size"`            // recipients per enqueue chunk
	BatchSize          int `yaml:"batch_size"`            // items attempted per dispatch tick
	MaxAttempts        int `yaml:"max_attempts"`          // terminal failure threshold
	BackoffStepMinutes int `yaml:"backoff_step_minutes"`  // linear backoff multiplier
	StuckTimeoutMin    int `yaml:"stuck_timeout_minutes"` // processing items older than this are reclaimed
	TickSeconds        int `yaml:"tick_seconds"`          // dispatcher wake interval
	HourlyLimit        int `yaml:"hourly_limit"`          // 0 disables rate limiting
}

// ListsConfig points at the external list service used to resolve
// callback-backed recipient lists. Empty disables external lists.
type ListsConfig struct {
	ProviderURL string `yaml:"provider_url"`
}

// TrackingConfig holds the public base URL used to build unsubscribe links.
type TrackingConfig struct {
	UnsubscribeBaseURL string `yaml:"unsubscribe_base_url"`
}

// BackoffStep returns the linear backoff multiplier as a duration.
func (q QueueConfig) BackoffStep() time.Duration {
	return time.Duration(q.BackoffStepMinutes) * time.Minute
}

// StuckTimeout returns the stuck-item reclaim threshold as a duration.
func (q QueueConfig) StuckTimeout() time.Duration {
	return time.Duration(q.StuckTimeoutMin) * time.Minute
}

// TickInterval returns the dispatcher wake interval as a duration.
func (q QueueConfig) TickInterval() time.Duration {
	return time.Duration(q.TickSeconds) * time.Second
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads the YAML config (if path is non-empty and the file
// exists) and then applies environment variable overrides. A .env file in
// the working directory is honored for local development.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if transport := os.Getenv("MAILER_TRANSPORT"); transport != "" {
		cfg.Mailer.Transport = transport
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.Mailer.SMTPHost = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Mailer.SMTPPort = n
		}
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.Mailer.SMTPUsername = user
	}
	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		cfg.Mailer.SMTPPassword = pass
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.Mailer.SESAccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.Mailer.SESSecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.Mailer.SESRegion = region
	}
	if from := os.Getenv("MAILER_FROM_EMAIL"); from != "" {
		cfg.Mailer.FromEmail = from
	}
	if base := os.Getenv("UNSUBSCRIBE_BASE_URL"); base != "" {
		cfg.Tracking.UnsubscribeBaseURL = base
	}
	if provider := os.Getenv("LIST_PROVIDER_URL"); provider != "" {
		cfg.Lists.ProviderURL = provider
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5
	}
	if c.Mailer.Transport == "" {
		c.Mailer.Transport = "smtp"
	}
	if c.Mailer.SMTPPort == 0 {
		c.Mailer.SMTPPort = 587
	}
	if c.Mailer.SESRegion == "" {
		c.Mailer.SESRegion = "us-east-1"
	}
	if c.Queue.ChunkSize == 0 {
		c.Queue.ChunkSize = 500
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 10
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BackoffStepMinutes == 0 {
		c.Queue.BackoffStepMinutes = 2
	}
	if c.Queue.StuckTimeoutMin == 0 {
		c.Queue.StuckTimeoutMin = 5
	}
	if c.Queue.TickSeconds == 0 {
		c.Queue.TickSeconds = 60
	}
}
