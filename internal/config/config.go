package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultServerURL is the Leaf API used when nothing else is configured.
	DefaultServerURL = "http://localhost:8000/api"
	// DefaultHTTPTimeout bounds a single API request.
	DefaultHTTPTimeout = 15 * time.Second
	// DefaultRefreshLeadTime is how long before access token expiry the
	// proactive refresh fires.
	DefaultRefreshLeadTime = 5 * time.Minute
)

// Storage backends accepted by Config.Storage.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type Config struct {
	// ServerURL is the base URL of the Leaf REST API, without trailing slash.
	ServerURL string `yaml:"server_url"`

	// Home is the directory where the client keeps local state.
	Home string `yaml:"home"`
	// Storage selects the key/value backend (file|sqlite|redis|memory).
	Storage string `yaml:"storage"`
	// RedisURL is the redis:// URL used when Storage is redis.
	RedisURL string `yaml:"redis_url"`

	// LogLevel is the logger threshold (trace|debug|info|warn|error).
	LogLevel string `yaml:"log_level"`
	// LogFile, when set, sends logs to a rotated file instead of stderr.
	LogFile string `yaml:"log_file"`
	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`

	// HTTPTimeout bounds a single API request.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// RefreshLeadTime is how long before expiry tokens are refreshed.
	RefreshLeadTime time.Duration `yaml:"refresh_lead_time"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) *Config {
	return &Config{
		ServerURL:       DefaultServerURL,
		Home:            home,
		Storage:         StorageFile,
		LogLevel:        "info",
		HTTPTimeout:     DefaultHTTPTimeout,
		RefreshLeadTime: DefaultRefreshLeadTime,
	}
}

// Load loads configuration from defaults, an optional .env file, an optional
// YAML file (LEAF_CONFIG) and LEAF_* environment variables, in that order.
func Load() (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cfg := Default(filepath.Join(homeDir, ".leaf"))

	if path := os.Getenv("LEAF_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create leaf home: %w", err)
	}
	return cfg, nil
}

// mergeFile overlays the non-zero fields of a YAML file onto c.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LEAF_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("LEAF_HOME"); v != "" {
		c.Home = v
	}
	if v := os.Getenv("LEAF_STORAGE"); v != "" {
		c.Storage = v
	}
	if v := os.Getenv("LEAF_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("LEAF_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LEAF_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("LEAF_DEBUG"); v == "true" || v == "1" {
		c.Debug = true
	}
	if v := os.Getenv("LEAF_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid LEAF_HTTP_TIMEOUT %q: %w", v, err)
		}
		c.HTTPTimeout = d
	}
	if v := os.Getenv("LEAF_REFRESH_LEAD_TIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid LEAF_REFRESH_LEAD_TIME %q: %w", v, err)
		}
		c.RefreshLeadTime = d
	}
	return nil
}

// Validate normalizes c and reports the first invalid field.
func (c *Config) Validate() error {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL %q", c.ServerURL)
	}

	switch c.Storage {
	case StorageFile, StorageSQLite, StorageMemory:
	case StorageRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("storage %q requires LEAF_REDIS_URL", c.Storage)
		}
	default:
		return fmt.Errorf("invalid storage %q (expected file, sqlite, redis or memory)", c.Storage)
	}

	if c.Home == "" && (c.Storage == StorageFile || c.Storage == StorageSQLite) {
		return fmt.Errorf("storage %q requires a home directory", c.Storage)
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.RefreshLeadTime < 0 {
		return fmt.Errorf("refresh lead time must not be negative")
	}
	if c.Debug && c.LogLevel == "info" {
		c.LogLevel = "debug"
	}
	return nil
}
