package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	Port        string `yaml:"port"`
	HealthPort  string `yaml:"health_port"`
	LogLevel    string `yaml:"log_level"`
	Environment string `yaml:"environment"`
	DatabaseURL string `yaml:"database_url"`
	SecretKey   string `yaml:"secret_key"`
	BaseURL     string `yaml:"base_url"`
	NATSURL     string `yaml:"nats_url"`
	RunWorker   bool   `yaml:"run_worker"`

	CORSOrigins    []string `yaml:"cors_origins"`
	RateLimitRPS   int      `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`

	Redis     RedisConfig     `yaml:"redis"`
	Email     EmailConfig     `yaml:"email"`
	Media     MediaConfig     `yaml:"media"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RedisConfig points at the key-value store. Addr "memory" selects the
// in-process store used for local development.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MemoryAddr is the Redis address that selects the in-process store.
const MemoryAddr = "memory"

// InMemory reports whether the in-process store replaces Redis.
func (r RedisConfig) InMemory() bool { return r.Addr == MemoryAddr }

// EmailConfig selects how outbound mail is delivered.
type EmailConfig struct {
	Backend  string `yaml:"backend"` // smtp | console
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// MediaConfig selects where uploaded avatars live.
type MediaConfig struct {
	Backend  string `yaml:"backend"` // local | s3 | gcs
	Root     string `yaml:"root"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// TelemetryConfig configures the OpenTelemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Defaults returns the development configuration.
func Defaults() *Config {
	return &Config{
		Port:           "8080",
		HealthPort:     "8081",
		LogLevel:       "INFO",
		Environment:    "development",
		DatabaseURL:    "postgres://forum@localhost:5432/forum?sslmode=disable",
		BaseURL:        "http://localhost:8080",
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Email: EmailConfig{
			Backend: "console",
			Port:    587,
			From:    "noreply@localhost",
		},
		Media: MediaConfig{
			Backend: "local",
			Root:    "media",
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
			Insecure: true,
		},
	}
}

// Load loads configuration from environment variables. If FORUM_CONFIG names
// a YAML file it is applied first and the environment overrides it.
func Load() *Config {
	cfg := Defaults()
	if path := os.Getenv("FORUM_CONFIG"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			slog.Warn("config file ignored", "path", path, "error", err)
		}
	}
	applyEnv(cfg)
	return cfg
}

// LoadWithFile is Load with an explicit YAML file, as passed by --config.
func LoadWithFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadFile decodes a YAML file on top of cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.HealthPort, "HEALTH_PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Environment, "ENVIRONMENT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.SecretKey, "SECRET_KEY")
	setString(&cfg.BaseURL, "BASE_URL")
	setString(&cfg.NATSURL, "NATS_URL")
	setBool(&cfg.RunWorker, "RUN_WORKER")
	setInt(&cfg.RateLimitRPS, "RATE_LIMIT_RPS")
	setInt(&cfg.RateLimitBurst, "RATE_LIMIT_BURST")
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = strings.Split(origins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	}

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setString(&cfg.Email.Backend, "EMAIL_BACKEND")
	setString(&cfg.Email.Host, "SMTP_HOST")
	setInt(&cfg.Email.Port, "SMTP_PORT")
	setString(&cfg.Email.User, "SMTP_USER")
	setString(&cfg.Email.Password, "SMTP_PASSWORD")
	setString(&cfg.Email.From, "EMAIL_FROM")

	setString(&cfg.Media.Backend, "MEDIA_BACKEND")
	setString(&cfg.Media.Root, "MEDIA_ROOT")
	setString(&cfg.Media.Bucket, "MEDIA_BUCKET")
	setString(&cfg.Media.Region, "MEDIA_REGION")
	setString(&cfg.Media.Endpoint, "MEDIA_ENDPOINT")
	setString(&cfg.Media.Prefix, "MEDIA_PREFIX")

	setBool(&cfg.Telemetry.Enabled, "OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "OTEL_INSECURE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// Addr is the listen address of the main HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// IsDevelopment reports whether the process runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development"
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("SECRET_KEY is required outside development"))
	}
	switch c.Email.Backend {
	case "console":
	case "smtp":
		if c.Email.Host == "" {
			errs = append(errs, errors.New("SMTP_HOST is required for the smtp email backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown email backend %q", c.Email.Backend))
	}
	switch c.Media.Backend {
	case "local":
	case "s3", "gcs":
		if c.Media.Bucket == "" {
			errs = append(errs, fmt.Errorf("MEDIA_BUCKET is required for the %s media backend", c.Media.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown media backend %q", c.Media.Backend))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	return errors.Join(errs...)
}
