package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable LoadConfig reads for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HOST", "PORT", "READ_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT",
		"BUILTIN_DIR", "USER_DIR", "AUTO_STARTUP", "LOAD_TIMEOUT",
		"WATCH", "WATCH_DEBOUNCE", "RESCAN_SCHEDULE",
		"REDIS_URL", "REDIS_PREFIX",
		"LOG_LEVEL", "LOG_FORMAT", "METRICS_ENABLED",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pluginhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8420", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "plugins", filepath.Base(cfg.Plugins.BuiltinDir))
	assert.Contains(t, filepath.ToSlash(cfg.Plugins.UserDir), ".pluginhost/plugins")
	assert.Equal(t, []string{cfg.Plugins.BuiltinDir, cfg.Plugins.UserDir}, cfg.Plugins.Roots())
	assert.True(t, cfg.Plugins.AutoStartup)
	assert.Zero(t, cfg.Plugins.LoadTimeout)
	assert.False(t, cfg.Plugins.Watch)
	assert.Empty(t, cfg.Plugins.RescanSchedule)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "pluginhost:", cfg.Redis.Prefix)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.Level())
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfig_File(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
server:
  port: "9000"
  read_timeout: 5s
plugins:
  builtin_dir: /opt/plugins
  user_dir: /home/me/plugins
  auto_startup: false
  load_timeout: 30s
  watch: true
  rescan_schedule: "@every 5m"
redis:
  url: redis://localhost:6379/0
observability:
  log_level: debug
  log_format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "/opt/plugins", cfg.Plugins.BuiltinDir)
	assert.Equal(t, "/home/me/plugins", cfg.Plugins.UserDir)
	assert.False(t, cfg.Plugins.AutoStartup)
	assert.Equal(t, 30*time.Second, cfg.Plugins.LoadTimeout)
	assert.True(t, cfg.Plugins.Watch)
	assert.Equal(t, "@every 5m", cfg.Plugins.RescanSchedule)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "pluginhost:", cfg.Redis.Prefix)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.Level())
	assert.Equal(t, "json", cfg.Observability.LogFormat)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
plugins:
  builtin_dir: /opt/plugins
  watch: false
observability:
  log_level: debug
`)
	t.Setenv("PLUGINHOST_BUILTIN_DIR", "/env/plugins")
	t.Setenv("PLUGINHOST_WATCH", "1")
	t.Setenv("PLUGINHOST_LOAD_TIMEOUT", "2s")
	t.Setenv("PLUGINHOST_LOG_LEVEL", "error")
	t.Setenv("PLUGINHOST_REDIS_PREFIX", "app:")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/env/plugins", cfg.Plugins.BuiltinDir)
	assert.True(t, cfg.Plugins.Watch)
	assert.Equal(t, 2*time.Second, cfg.Plugins.LoadTimeout)
	assert.Equal(t, observability.ErrorLevel, cfg.Observability.Level())
	assert.Equal(t, "app:", cfg.Redis.Prefix)
}

func TestLoadConfig_FileErrors(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadConfig(writeConfig(t, "plugins: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "non numeric port",
			mutate:  func(c *Config) { c.Server.Port = "http" },
			wantErr: "invalid server port",
		},
		{
			name: "no plugin directories",
			mutate: func(c *Config) {
				c.Plugins.BuiltinDir = ""
				c.Plugins.UserDir = ""
			},
			wantErr: "at least one plugin directory is required",
		},
		{
			name:   "one plugin directory is enough",
			mutate: func(c *Config) { c.Plugins.UserDir = "" },
		},
		{
			name:    "negative load timeout",
			mutate:  func(c *Config) { c.Plugins.LoadTimeout = -time.Second },
			wantErr: "load timeout must not be negative",
		},
		{
			name:    "negative debounce",
			mutate:  func(c *Config) { c.Plugins.WatchDebounce = -time.Second },
			wantErr: "watch debounce must not be negative",
		},
		{
			name:    "bad schedule",
			mutate:  func(c *Config) { c.Plugins.RescanSchedule = "sometimes" },
			wantErr: "invalid rescan schedule",
		},
		{
			name:   "cron schedule",
			mutate: func(c *Config) { c.Plugins.RescanSchedule = "*/5 * * * *" },
		},
		{
			name:    "bad redis url",
			mutate:  func(c *Config) { c.Redis.URL = "http://localhost" },
			wantErr: "invalid redis URL",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Observability.LogFormat = "xml" },
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PLUGINHOST_TEST_STRING", "custom")
	t.Setenv("PLUGINHOST_TEST_BOOL", "TRUE")
	t.Setenv("PLUGINHOST_TEST_DURATION", "90s")
	t.Setenv("PLUGINHOST_TEST_BAD_DURATION", "soon")

	assert.Equal(t, "custom", getEnv("PLUGINHOST_TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("PLUGINHOST_TEST_UNSET", "default"))
	assert.True(t, getEnvBool("PLUGINHOST_TEST_BOOL", false))
	assert.True(t, getEnvBool("PLUGINHOST_TEST_UNSET", true))
	assert.Equal(t, 90*time.Second, getEnvDuration("PLUGINHOST_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("PLUGINHOST_TEST_BAD_DURATION", time.Second))
}
