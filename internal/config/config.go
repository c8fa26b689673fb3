package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "default_jwt_secret"

// Config holds all configuration for our application
type Config struct {
	Port                 string
	Origin               string
	Environment          string
	LogLevel             string
	JWTSecret            string
	JWTExpirationMinutes int
	DefaultToStaff       bool
	Database             DatabaseConfig
	Broadcast            BroadcastConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	DSN      string
}

// BroadcastConfig controls the change-event delivery pipeline.
type BroadcastConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	MaxAttempts int
	WebhookURL  string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "3001")
	v.SetDefault("ORIGIN", "http://localhost:5173")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_EXPIRATION_MINUTES", 60)
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_USERNAME", "root")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "clinic")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("BROADCAST_WORKERS", 4)
	v.SetDefault("BROADCAST_QUEUE_SIZE", 256)
	v.SetDefault("BROADCAST_SEND_TIMEOUT", "5s")
	v.SetDefault("BROADCAST_MAX_ATTEMPTS", 3)
	v.SetDefault("BROADCAST_WEBHOOK_URL", "")

	env := v.GetString("APP_ENV")
	v.SetDefault("DEFAULT_TO_STAFF", env == "development")

	dbConfig := DatabaseConfig{
		Driver:   strings.ToLower(v.GetString("DB_DRIVER")),
		Host:     v.GetString("DB_HOST"),
		Port:     v.GetString("DB_PORT"),
		Username: v.GetString("DB_USERNAME"),
		Password: v.GetString("DB_PASSWORD"),
		Name:     v.GetString("DB_NAME"),
		DSN:      v.GetString("DB_DSN"),
	}
	if dbConfig.Port == "" {
		dbConfig.Port = defaultPort(dbConfig.Driver)
	}
	if dbConfig.DSN == "" {
		dbConfig.DSN = dbConfig.BuildDSN()
	}

	sendTimeout, err := time.ParseDuration(v.GetString("BROADCAST_SEND_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid BROADCAST_SEND_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Port:                 v.GetString("PORT"),
		Origin:               v.GetString("ORIGIN"),
		Environment:          env,
		LogLevel:             v.GetString("LOG_LEVEL"),
		JWTSecret:            v.GetString("JWT_SECRET"),
		JWTExpirationMinutes: v.GetInt("JWT_EXPIRATION_MINUTES"),
		DefaultToStaff:       v.GetBool("DEFAULT_TO_STAFF"),
		Database:             dbConfig,
		Broadcast: BroadcastConfig{
			Workers:     v.GetInt("BROADCAST_WORKERS"),
			QueueSize:   v.GetInt("BROADCAST_QUEUE_SIZE"),
			SendTimeout: sendTimeout,
			MaxAttempts: v.GetInt("BROADCAST_MAX_ATTEMPTS"),
			WebhookURL:  v.GetString("BROADCAST_WEBHOOK_URL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BuildDSN assembles the data source name for the configured driver.
func (d DatabaseConfig) BuildDSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			d.Host, d.Port, d.Username, d.Password, d.Name)
	case "sqlite":
		return d.Name + ".db"
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.Username, d.Password, d.Host, d.Port, d.Name)
	}
}

func defaultPort(driver string) string {
	switch driver {
	case "postgres":
		return "5432"
	case "sqlite":
		return ""
	default:
		return "3306"
	}
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be \"mysql\", \"postgres\" or \"sqlite\", got %q", c.Database.Driver)
	}
	if c.JWTExpirationMinutes <= 0 {
		return fmt.Errorf("JWT_EXPIRATION_MINUTES must be positive, got %d", c.JWTExpirationMinutes)
	}
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.Broadcast.Workers <= 0 {
		return fmt.Errorf("BROADCAST_WORKERS must be positive, got %d", c.Broadcast.Workers)
	}
	if c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("BROADCAST_QUEUE_SIZE must be positive, got %d", c.Broadcast.QueueSize)
	}
	if c.Broadcast.MaxAttempts <= 0 {
		return fmt.Errorf("BROADCAST_MAX_ATTEMPTS must be positive, got %d", c.Broadcast.MaxAttempts)
	}
	if c.Broadcast.SendTimeout <= 0 {
		return fmt.Errorf("BROADCAST_SEND_TIMEOUT must be positive")
	}
	return nil
}
