package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Queue   QueueConfig   `mapstructure:"queue" validate:"required"`
	Storage StorageConfig `mapstructure:"storage" validate:"required"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// QueueConfig controls the durable task queue.
type QueueConfig struct {
	// Name identifies the queue's records in a shared backing store.
	Name string `mapstructure:"name" validate:"required,max=64"`
	// Concurrency is the number of tasks executed at once. Zero starts the
	// queue throttled.
	Concurrency int `mapstructure:"concurrency" validate:"gte=0"`
	// AutoSave flushes every mutation to storage immediately.
	AutoSave bool `mapstructure:"auto_save"`
	// FlushInterval enables periodic flushing while AutoSave is off. Zero disables it.
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gte=0"`
}

// StorageConfig selects and configures the backing medium for queued tasks.
type StorageConfig struct {
	Driver        string `mapstructure:"driver" validate:"required,oneof=file postgres memory"`
	FilePath      string `mapstructure:"file_path" validate:"required_if=Driver file"`
	DatabaseURL   string `mapstructure:"database_url" validate:"required_if=Driver postgres,omitempty,url"`
	RetryAttempts uint64 `mapstructure:"retry_attempts" validate:"gte=1,lte=100"`
}

// AuthConfig contains the admin API authentication settings. Authentication
// is disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0,lte=44640"`
}

// Enabled reports whether API requests must carry a bearer token.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// TokenLifetime returns the token lifetime as a duration.
func (a AuthConfig) TokenLifetime() time.Duration {
	return time.Duration(a.TokenLifetimeMinutes) * time.Minute
}
