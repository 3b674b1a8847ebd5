// Package config provides plugin host configuration from defaults, an optional YAML
// file and environment variables, applied in that order.
//
// # Configuration File
//
//	server:
//	  host: 127.0.0.1
//	  port: "8420"
//	plugins:
//	  builtin_dir: /opt/pluginhost/plugins
//	  user_dir: /home/me/.pluginhost/plugins
//	  auto_startup: true
//	  load_timeout: 30s
//	  watch: true
//	  rescan_schedule: "@every 5m"
//	redis:
//	  url: redis://localhost:6379/0
//	  prefix: "pluginhost:"
//	observability:
//	  log_level: info
//	  log_format: text
//
// # Environment
//
//	PLUGINHOST_HOST, PLUGINHOST_PORT
//	PLUGINHOST_READ_TIMEOUT, PLUGINHOST_WRITE_TIMEOUT, PLUGINHOST_IDLE_TIMEOUT, PLUGINHOST_SHUTDOWN_TIMEOUT
//	PLUGINHOST_BUILTIN_DIR, PLUGINHOST_USER_DIR
//	PLUGINHOST_AUTO_STARTUP, PLUGINHOST_LOAD_TIMEOUT
//	PLUGINHOST_WATCH, PLUGINHOST_WATCH_DEBOUNCE, PLUGINHOST_RESCAN_SCHEDULE
//	PLUGINHOST_REDIS_URL, PLUGINHOST_REDIS_PREFIX
//	PLUGINHOST_LOG_LEVEL  # debug, info, warn, error
//	PLUGINHOST_LOG_FORMAT # text, json
//	PLUGINHOST_METRICS_ENABLED
//
// # Usage Example
//
//	cfg, err := config.LoadConfig(configPath)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	manager := plugins.NewManager(cfg.Plugins.Roots(), logger)
//
// # Related Packages
//
//   - pkg/plugins: Uses plugin configuration
//   - pkg/observability: Uses observability configuration
package config
