package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the newsletter service
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Email     EmailConfig     `yaml:"email"`
	Send      SendConfig      `yaml:"send"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig accepts either a full URL or the individual DB_* parts.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
}

func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name,
	)
}

// RedisConfig is optional; an empty Addr disables Redis locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type EmailConfig struct {
	Provider       string `yaml:"provider"` // http or ses
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	From           string `yaml:"from"`
	SiteURL        string `yaml:"site_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SESRegion      string `yaml:"ses_region"`
	SESAccessKey   string `yaml:"ses_access_key"`
	SESSecretKey   string `yaml:"ses_secret_key"`
}

func (c EmailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type SendConfig struct {
	Concurrency int `yaml:"concurrency"`
	PageSize    int `yaml:"page_size"`
	SeedChunk   int `yaml:"seed_chunk"`
}

type SchedulerConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	BatchSize       int  `yaml:"batch_size"`
}

func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

const (
	TriggerAMQP    = "amqp"
	TriggerWebhook = "webhook"
	TriggerInline  = "inline"
)

type TriggerConfig struct {
	Mode       string `yaml:"mode"`
	WebhookURL string `yaml:"webhook_url"`
	Secret     string `yaml:"secret"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	AdminRole string `yaml:"admin_role"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// Load reads a YAML config file and applies defaults. A missing path yields
// a config built from defaults only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.AMQP.Queue == "" {
		cfg.AMQP.Queue = "newsletter_sends"
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "http"
	}
	if cfg.Email.BaseURL == "" {
		cfg.Email.BaseURL = "https://api.resend.com"
	}
	if cfg.Email.TimeoutSeconds == 0 {
		cfg.Email.TimeoutSeconds = 15
	}
	if cfg.Email.SESRegion == "" {
		cfg.Email.SESRegion = "us-east-1"
	}
	if cfg.Send.Concurrency == 0 {
		cfg.Send.Concurrency = 5
	}
	if cfg.Send.PageSize == 0 {
		cfg.Send.PageSize = 5000
	}
	if cfg.Send.SeedChunk == 0 {
		cfg.Send.SeedChunk = 1000
	}
	if cfg.Scheduler.IntervalSeconds == 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Trigger.Mode == "" {
		cfg.Trigger.Mode = TriggerInline
	}
	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "admin"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads .env (if present), the YAML file, then lets environment
// variables override secrets and endpoints.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.AMQP.URL, "AMQP_URL")
	setString(&cfg.Email.Provider, "EMAIL_PROVIDER")
	setString(&cfg.Email.APIKey, "EMAIL_API_KEY")
	setString(&cfg.Email.BaseURL, "EMAIL_BASE_URL")
	setString(&cfg.Email.From, "EMAIL_FROM")
	setString(&cfg.Email.SiteURL, "SITE_URL")
	setString(&cfg.Email.SESAccessKey, "AWS_SES_ACCESS_KEY")
	setString(&cfg.Email.SESSecretKey, "AWS_SES_SECRET_KEY")
	setString(&cfg.Email.SESRegion, "AWS_SES_REGION")
	setString(&cfg.Trigger.Mode, "TRIGGER_MODE")
	setString(&cfg.Trigger.WebhookURL, "TRIGGER_WEBHOOK_URL")
	setString(&cfg.Trigger.Secret, "NEWSLETTER_SECRET")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Log.Env, "APP_ENV")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
