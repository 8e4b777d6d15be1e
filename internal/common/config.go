package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Backend     BackendConfig   `toml:"backend"`
	Session     SessionConfig   `toml:"session"`
	Jobs        JobsConfig      `toml:"jobs"`
	Storage     StorageConfig   `toml:"storage"`
	Documents   DocumentsConfig `toml:"documents"`
	History     HistoryConfig   `toml:"history"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

// BackendConfig describes the remote flashcard generation service
type BackendConfig struct {
	BaseURL       string  `toml:"base_url" validate:"required,url"`
	ClientID      string  `toml:"client_id"`
	Timeout       string  `toml:"timeout"`        // e.g. "30s" - per request timeout
	UploadTimeout string  `toml:"upload_timeout"` // e.g. "5m" - document upload timeout
	RateLimit     float64 `toml:"rate_limit" validate:"gte=0"` // requests per second, 0 disables
	RateBurst     int     `toml:"rate_burst" validate:"gte=0"`
}

type SessionConfig struct {
	RefreshMargin   string `toml:"refresh_margin"`    // renew this long before expiry
	MinRefreshDelay string `toml:"min_refresh_delay"` // lower bound between renewals
}

type JobsConfig struct {
	PollInterval   string `toml:"poll_interval"` // e.g. "2s"
	MaxAttempts    int    `toml:"max_attempts" validate:"min=1"`
	CancelGrace    string `toml:"cancel_grace"`    // how long a cancel waits for the server
	RequestTimeout string `toml:"request_timeout"` // timeout for each poll/cancel call
	RecoverOnStart bool   `toml:"recover_on_start"`
}

type StorageConfig struct {
	Type   string       `toml:"type" validate:"oneof=badger redis"`
	Badger BadgerConfig `toml:"badger"`
	Redis  RedisConfig  `toml:"redis"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RedisConfig is used when several local clients share one registry
type RedisConfig struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
}

type DocumentsConfig struct {
	MaxFileSize  int64    `toml:"max_file_size" validate:"gt=0"` // bytes
	MaxPages     int      `toml:"max_pages" validate:"gte=0"`    // 0 disables the page check
	AllowedTypes []string `toml:"allowed_types" validate:"min=1"`
}

type HistoryConfig struct {
	MaxEntries int `toml:"max_entries" validate:"min=1"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
}

type WebSocketConfig struct {
	SendBuffer int `toml:"send_buffer" validate:"min=1"` // queued messages per client before disconnect
}

// NewDefaultConfig returns the configuration used when no file is supplied
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Backend: BackendConfig{
			BaseURL:       "http://localhost:8000/api",
			ClientID:      "flashdeck",
			Timeout:       "30s",
			UploadTimeout: "5m",
			RateLimit:     5,
			RateBurst:     5,
		},
		Session: SessionConfig{
			RefreshMargin:   "60s",
			MinRefreshDelay: "5s",
		},
		Jobs: JobsConfig{
			PollInterval:   "2s",
			MaxAttempts:    150, // 5 minutes at the default interval
			CancelGrace:    "2s",
			RequestTimeout: "15s",
			RecoverOnStart: true,
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
			Redis: RedisConfig{
				URL:       "redis://localhost:6379/0",
				KeyPrefix: "flashdeck",
			},
		},
		Documents: DocumentsConfig{
			MaxFileSize:  50 * 1024 * 1024,
			MaxPages:     300,
			AllowedTypes: []string{"application/pdf"},
		},
		History: HistoryConfig{
			MaxEntries: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		WebSocket: WebSocketConfig{
			SendBuffer: 64,
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> .env.local -> env
// Later files override earlier files. CLI flags are applied by the caller via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	loadDotEnv()
	applyEnvOverrides(config)

	return config, nil
}

// loadDotEnv reads .env.local from the working directory or its parent.
// Values already present in the environment are not overwritten.
func loadDotEnv() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	_ = godotenv.Load(filepath.Join(filepath.Dir(cwd), ".env.local"))
}

// applyEnvOverrides applies FLASHDECK_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FLASHDECK_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("FLASHDECK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FLASHDECK_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Backend
	if baseURL := os.Getenv("FLASHDECK_BACKEND_URL"); baseURL != "" {
		config.Backend.BaseURL = baseURL
	}
	if clientID := os.Getenv("FLASHDECK_BACKEND_CLIENT_ID"); clientID != "" {
		config.Backend.ClientID = clientID
	}
	if rateLimit := os.Getenv("FLASHDECK_BACKEND_RATE_LIMIT"); rateLimit != "" {
		if r, err := strconv.ParseFloat(rateLimit, 64); err == nil {
			config.Backend.RateLimit = r
		}
	}

	// Jobs
	if pollInterval := os.Getenv("FLASHDECK_JOBS_POLL_INTERVAL"); pollInterval != "" {
		config.Jobs.PollInterval = pollInterval
	}
	if maxAttempts := os.Getenv("FLASHDECK_JOBS_MAX_ATTEMPTS"); maxAttempts != "" {
		if n, err := strconv.Atoi(maxAttempts); err == nil {
			config.Jobs.MaxAttempts = n
		}
	}
	if cancelGrace := os.Getenv("FLASHDECK_JOBS_CANCEL_GRACE"); cancelGrace != "" {
		config.Jobs.CancelGrace = cancelGrace
	}

	// Storage
	if storageType := os.Getenv("FLASHDECK_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if path := os.Getenv("FLASHDECK_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if redisURL := os.Getenv("FLASHDECK_REDIS_URL"); redisURL != "" {
		config.Storage.Redis.URL = redisURL
	}

	// Documents
	if maxPages := os.Getenv("FLASHDECK_DOCUMENTS_MAX_PAGES"); maxPages != "" {
		if n, err := strconv.Atoi(maxPages); err == nil {
			config.Documents.MaxPages = n
		}
	}

	// Logging
	if level := os.Getenv("FLASHDECK_LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToLower(level)
	}
	if output := os.Getenv("FLASHDECK_LOG_OUTPUT"); output != "" {
		parts := strings.Split(output, ",")
		config.Logging.Output = config.Logging.Output[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				config.Logging.Output = append(config.Logging.Output, p)
			}
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks struct tags and that every duration string parses
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"backend.timeout":           c.Backend.Timeout,
		"backend.upload_timeout":    c.Backend.UploadTimeout,
		"session.refresh_margin":    c.Session.RefreshMargin,
		"session.min_refresh_delay": c.Session.MinRefreshDelay,
		"jobs.poll_interval":        c.Jobs.PollInterval,
		"jobs.cancel_grace":         c.Jobs.CancelGrace,
		"jobs.request_timeout":      c.Jobs.RequestTimeout,
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("duration for %s must be positive, got %s", name, value)
		}
	}

	if c.Storage.Type == "redis" && c.Storage.Redis.URL == "" {
		return fmt.Errorf("storage.redis.url is required when storage.type is redis")
	}

	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// ParseDurationOr parses s, falling back to def when empty or malformed
func ParseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DeepCloneConfig returns a copy of c that shares no slices with it
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Documents.AllowedTypes = append([]string(nil), c.Documents.AllowedTypes...)
	clone.Logging.Output = append([]string(nil), c.Logging.Output...)
	return &clone
}
