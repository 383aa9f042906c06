// Package config loads runtime configuration from the environment
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	NATS      NATSConfig      `json:"nats"`
	Room      RoomConfig      `json:"room"`
	JWT       JWTConfig       `json:"jwt"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database configuration for the persistence collaborator
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig contains Redis configuration for cross-instance ephemeral relay
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// NATSConfig contains NATS configuration for the snapshot-persistence queue
type NATSConfig struct {
	URL             string `json:"url"`
	SnapshotSubject string `json:"snapshot_subject"`
}

// RoomConfig contains the timing knobs named throughout §4.6-§4.8
type RoomConfig struct {
	// Connection manager (§4.6)
	BackoffBase    time.Duration `json:"backoff_base"`
	BackoffMax     time.Duration `json:"backoff_max"`
	MaxRetries     int           `json:"max_retries"`
	OpenTimeout    time.Duration `json:"open_timeout"`
	HeartbeatEvery time.Duration `json:"heartbeat_every"`

	// Room client (§4.7)
	StorageSyncTimeout time.Duration `json:"storage_sync_timeout"`

	// History manager (§4.5)
	CoalesceWindow time.Duration `json:"coalesce_window"`
	HistoryCap     int           `json:"history_cap"`

	// Room server (§4.8)
	PersistDebounce time.Duration `json:"persist_debounce"`
}

// JWTConfig contains JWT configuration for the optional identity layer
type JWTConfig struct {
	Secret         string        `json:"secret"`
	ExpirationTime time.Duration `json:"expiration_time"`
	Issuer         string        `json:"issuer"`
	Required       bool          `json:"required"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `json:"level"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	Burst             int `json:"burst"`
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnvInt("PORT", 8080),
			Host:         getEnv("HOST", "0.0.0.0"),
			ReadTimeout:  time.Duration(getEnvInt("READ_TIMEOUT", 10)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("WRITE_TIMEOUT", 10)) * time.Second,
			IdleTimeout:  time.Duration(getEnvInt("IDLE_TIMEOUT", 60)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "roomsync"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:             getEnv("NATS_URL", "nats://localhost:4222"),
			SnapshotSubject: getEnv("NATS_SNAPSHOT_SUBJECT", "roomsync.snapshots"),
		},
		Room: RoomConfig{
			BackoffBase:        time.Duration(getEnvInt("ROOM_BACKOFF_BASE_MS", 250)) * time.Millisecond,
			BackoffMax:         time.Duration(getEnvInt("ROOM_BACKOFF_MAX_MS", 30000)) * time.Millisecond,
			MaxRetries:         getEnvInt("ROOM_MAX_RETRIES", 20),
			OpenTimeout:        time.Duration(getEnvInt("ROOM_OPEN_TIMEOUT_MS", 10000)) * time.Millisecond,
			HeartbeatEvery:     time.Duration(getEnvInt("ROOM_HEARTBEAT_MS", 30000)) * time.Millisecond,
			StorageSyncTimeout: time.Duration(getEnvInt("ROOM_STORAGE_SYNC_TIMEOUT_MS", 10000)) * time.Millisecond,
			CoalesceWindow:     time.Duration(getEnvInt("ROOM_COALESCE_MS", 500)) * time.Millisecond,
			HistoryCap:         getEnvInt("ROOM_HISTORY_CAP", 64),
			PersistDebounce:    time.Duration(getEnvInt("ROOM_PERSIST_DEBOUNCE_MS", 2000)) * time.Millisecond,
		},
		JWT: JWTConfig{
			Secret:         getEnv("JWT_SECRET", "your-secret-key"),
			ExpirationTime: time.Duration(getEnvInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,
			Issuer:         getEnv("JWT_ISSUER", "roomsync"),
			Required:       getEnvBool("JWT_REQUIRED", false),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 6000),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 200),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
