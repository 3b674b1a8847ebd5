package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadConfig
const EnvPrefix = "PLUGINHOST_"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Plugin discovery and loading
	Plugins PluginsConfig `yaml:"plugins"`

	// Redis event bridge
	Redis RedisConfig `yaml:"redis"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP admin server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// PluginsConfig holds plugin discovery and loading configuration
type PluginsConfig struct {
	BuiltinDir     string        `yaml:"builtin_dir"`
	UserDir        string        `yaml:"user_dir"`
	AutoStartup    bool          `yaml:"auto_startup"`    // Load enable-startup plugins after first discovery
	LoadTimeout    time.Duration `yaml:"load_timeout"`    // 0 = unbounded
	Watch          bool          `yaml:"watch"`           // Rediscover on filesystem changes
	WatchDebounce  time.Duration `yaml:"watch_debounce"`
	RescanSchedule string        `yaml:"rescan_schedule"` // cron expression; empty disables
}

// Roots returns the discovery roots in scan order
func (p PluginsConfig) Roots() []string {
	return []string{p.BuiltinDir, p.UserDir}
}

// RedisConfig holds Redis bridge configuration
type RedisConfig struct {
	URL    string `yaml:"url"` // empty disables the bridge
	Prefix string `yaml:"prefix"`
}

// Enabled reports whether the bridge is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // text or json
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	builtin, user := plugins.DefaultPluginDirectories()

	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            "8420",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Plugins: PluginsConfig{
			BuiltinDir:    builtin,
			UserDir:       user,
			AutoStartup:   true,
			WatchDebounce: 500 * time.Millisecond,
		},
		Redis: RedisConfig{
			Prefix: "pluginhost:",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "text",
			MetricsEnabled: true,
		},
	}
}

// LoadConfig builds configuration from defaults, the YAML file at path (when
// path is not empty), then PLUGINHOST_* environment variables
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path onto c
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// applyEnv overlays environment variables onto c
func (c *Config) applyEnv() {
	c.Server.Host = getEnv(EnvPrefix+"HOST", c.Server.Host)
	c.Server.Port = getEnv(EnvPrefix+"PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration(EnvPrefix+"READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration(EnvPrefix+"WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration(EnvPrefix+"IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration(EnvPrefix+"SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Plugins.BuiltinDir = getEnv(EnvPrefix+"BUILTIN_DIR", c.Plugins.BuiltinDir)
	c.Plugins.UserDir = getEnv(EnvPrefix+"USER_DIR", c.Plugins.UserDir)
	c.Plugins.AutoStartup = getEnvBool(EnvPrefix+"AUTO_STARTUP", c.Plugins.AutoStartup)
	c.Plugins.LoadTimeout = getEnvDuration(EnvPrefix+"LOAD_TIMEOUT", c.Plugins.LoadTimeout)
	c.Plugins.Watch = getEnvBool(EnvPrefix+"WATCH", c.Plugins.Watch)
	c.Plugins.WatchDebounce = getEnvDuration(EnvPrefix+"WATCH_DEBOUNCE", c.Plugins.WatchDebounce)
	c.Plugins.RescanSchedule = getEnv(EnvPrefix+"RESCAN_SCHEDULE", c.Plugins.RescanSchedule)

	c.Redis.URL = getEnv(EnvPrefix+"REDIS_URL", c.Redis.URL)
	c.Redis.Prefix = getEnv(EnvPrefix+"REDIS_PREFIX", c.Redis.Prefix)

	c.Observability.LogLevel = getEnv(EnvPrefix+"LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv(EnvPrefix+"LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool(EnvPrefix+"METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port %q", c.Server.Port)
	}

	if c.Plugins.BuiltinDir == "" && c.Plugins.UserDir == "" {
		return errors.New("at least one plugin directory is required")
	}
	if c.Plugins.LoadTimeout < 0 {
		return fmt.Errorf("load timeout must not be negative: %s", c.Plugins.LoadTimeout)
	}
	if c.Plugins.WatchDebounce < 0 {
		return fmt.Errorf("watch debounce must not be negative: %s", c.Plugins.WatchDebounce)
	}
	if c.Plugins.RescanSchedule != "" {
		if _, err := cron.ParseStandard(c.Plugins.RescanSchedule); err != nil {
			return fmt.Errorf("invalid rescan schedule %q: %w", c.Plugins.RescanSchedule, err)
		}
	}

	if c.Redis.Enabled() {
		if _, err := redis.ParseURL(c.Redis.URL); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	}

	switch strings.ToLower(c.Observability.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
