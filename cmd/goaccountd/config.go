package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/mail/smtp"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration: an optional YAML file overlaid by
// GOACCOUNT_* environment variables.
type Config struct {
	Service string `yaml:"service"`
	Env     string `yaml:"env" validate:"oneof=dev staging prod"`
	// Secret is the base64 digest secret, at least 32 bytes decoded.
	Secret   string         `yaml:"secret" validate:"required,base64"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Backend  BackendConfig  `yaml:"backend"`
	Mail     MailConfig     `yaml:"mail"`
	Identity IdentityConfig `yaml:"identity"`
	Engine   EngineConfig   `yaml:"engine"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// HTTPConfig is the listener and its timeouts.
type HTTPConfig struct {
	Addr              string        `yaml:"addr" validate:"required"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// BackendConfig picks one persistence backend by Kind.
type BackendConfig struct {
	Kind   string       `yaml:"kind" validate:"oneof=redis dynamodb sqlite"`
	Prefix string       `yaml:"prefix"`
	Redis  RedisConfig  `yaml:"redis"`
	Dynamo DynamoConfig `yaml:"dynamodb"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig addresses Redis. Several addresses select a cluster client.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db" validate:"gte=0"`
}

// DynamoConfig names the DynamoDB table and how to reach it.
type DynamoConfig struct {
	Table           string `yaml:"table"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	CreateTable     bool   `yaml:"create_table"`
}

// SQLiteConfig is the database file path.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MailConfig is the SMTP relay and the message templates.
type MailConfig struct {
	// Transport is "smtp" or "discard". discard drops every message and is
	// only meant for local wiring checks.
	Transport      string                   `yaml:"transport" validate:"oneof=smtp discard"`
	SMTP           smtp.Config              `yaml:"smtp" validate:"-"`
	AllowedDomains []string                 `yaml:"allowed_domains" validate:"dive,fqdn"`
	Templates      map[string]TemplateEntry `yaml:"templates" validate:"dive"`
}

// TemplateEntry overrides the mail template of one purpose.
type TemplateEntry struct {
	Subject string `yaml:"subject" validate:"required"`
	Body    string `yaml:"body" validate:"required"`
}

// IdentityConfig points at the account directory. URL wins when both are set.
type IdentityConfig struct {
	URL      string          `yaml:"url" validate:"omitempty,url"`
	Timeout  time.Duration   `yaml:"timeout" validate:"gte=0"`
	Accounts []StaticAccount `yaml:"accounts" validate:"dive"`
}

// StaticAccount is an account served by the built-in directory.
type StaticAccount struct {
	ID     string `yaml:"id" validate:"required"`
	Email  string `yaml:"email" validate:"required,email"`
	Status string `yaml:"status" validate:"oneof=pending active disabled"`
}

// EngineConfig overlays engine defaults.
type EngineConfig struct {
	SessionTTL           time.Duration `yaml:"session_ttl" validate:"gte=0"`
	IdleTimeout          time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	MaxSessions          int           `yaml:"max_sessions_per_account" validate:"gte=0"`
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval" validate:"gte=0"`
	Audit                bool          `yaml:"audit"`
}

func defaultConfig() Config {
	return Config{
		Service: "goaccountd",
		Env:     "dev",
		Log:     LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			AllowedOrigins:    []string{"*"},
			RequestsPerSecond: 5,
			Burst:             10,
			ShutdownTimeout:   10 * time.Second,
		},
		Backend: BackendConfig{
			Kind:   "redis",
			Prefix: "goaccount",
			Redis:  RedisConfig{Addrs: []string{"localhost:6379"}},
			Dynamo: DynamoConfig{Table: "goaccount", Region: "us-east-1"},
			SQLite: SQLiteConfig{Path: "goaccount.db"},
		},
		Mail:     MailConfig{Transport: "smtp", SMTP: smtp.Config{Host: "localhost", Port: 1025, From: "noreply@example.com"}},
		Identity: IdentityConfig{Timeout: 3 * time.Second},
		Engine:   EngineConfig{HousekeepingInterval: time.Hour, Audit: true},
	}
}

// LoadConfig reads path (if non-empty), applies the environment and
// validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("GOACCOUNT_ENV", cfg.Env)
	cfg.Secret = getEnv("GOACCOUNT_SECRET", cfg.Secret)
	cfg.Log.Level = getEnv("GOACCOUNT_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("GOACCOUNT_LOG_FORMAT", cfg.Log.Format)
	cfg.HTTP.Addr = getEnv("GOACCOUNT_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.AllowedOrigins = getEnvList("GOACCOUNT_ALLOWED_ORIGINS", cfg.HTTP.AllowedOrigins)

	cfg.Backend.Kind = getEnv("GOACCOUNT_BACKEND", cfg.Backend.Kind)
	cfg.Backend.Prefix = getEnv("GOACCOUNT_KEY_PREFIX", cfg.Backend.Prefix)
	cfg.Backend.Redis.Addrs = getEnvList("REDIS_ADDR", cfg.Backend.Redis.Addrs)
	cfg.Backend.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Backend.Redis.Password)
	cfg.Backend.Redis.DB = getEnvInt("REDIS_DB", cfg.Backend.Redis.DB)
	cfg.Backend.Dynamo.Table = getEnv("GOACCOUNT_DYNAMO_TABLE", cfg.Backend.Dynamo.Table)
	cfg.Backend.Dynamo.Region = getEnv("AWS_REGION", cfg.Backend.Dynamo.Region)
	cfg.Backend.Dynamo.Endpoint = getEnv("AWS_ENDPOINT_URL", cfg.Backend.Dynamo.Endpoint)
	cfg.Backend.Dynamo.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", cfg.Backend.Dynamo.AccessKeyID)
	cfg.Backend.Dynamo.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", cfg.Backend.Dynamo.SecretAccessKey)
	cfg.Backend.SQLite.Path = getEnv("GOACCOUNT_SQLITE_PATH", cfg.Backend.SQLite.Path)

	cfg.Mail.Transport = getEnv("GOACCOUNT_MAIL_TRANSPORT", cfg.Mail.Transport)
	cfg.Mail.SMTP.Host = getEnv("SMTP_HOST", cfg.Mail.SMTP.Host)
	cfg.Mail.SMTP.Port = getEnvInt("SMTP_PORT", cfg.Mail.SMTP.Port)
	cfg.Mail.SMTP.Username = getEnv("SMTP_USERNAME", cfg.Mail.SMTP.Username)
	cfg.Mail.SMTP.Password = getEnv("SMTP_PASSWORD", cfg.Mail.SMTP.Password)
	cfg.Mail.SMTP.From = getEnv("SMTP_FROM", cfg.Mail.SMTP.From)
	cfg.Mail.AllowedDomains = getEnvList("GOACCOUNT_ALLOWED_DOMAINS", cfg.Mail.AllowedDomains)

	cfg.Identity.URL = getEnv("GOACCOUNT_IDENTITY_URL", cfg.Identity.URL)
}

func (c Config) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Mail.Transport == "smtp" {
		if err := v.Struct(c.Mail.SMTP); err != nil {
			return fmt.Errorf("invalid smtp config: %w", err)
		}
	}
	switch c.Backend.Kind {
	case "redis":
		if len(c.Backend.Redis.Addrs) == 0 {
			return errors.New("invalid config: backend.redis.addrs is required")
		}
	case "dynamodb":
		if c.Backend.Dynamo.Table == "" {
			return errors.New("invalid config: backend.dynamodb.table is required")
		}
	case "sqlite":
		if c.Backend.SQLite.Path == "" {
			return errors.New("invalid config: backend.sqlite.path is required")
		}
	}
	if c.Identity.URL == "" && len(c.Identity.Accounts) == 0 {
		return errors.New("invalid config: identity.url or identity.accounts is required")
	}
	secret, err := c.secretBytes()
	if err != nil {
		return err
	}
	if len(secret) < 32 {
		return errors.New("invalid config: secret must decode to at least 32 bytes")
	}
	return nil
}

func (c Config) secretBytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return nil, fmt.Errorf("invalid config: secret: %w", err)
	}
	return b, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
