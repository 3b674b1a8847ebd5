// Package cli implements the pluginhost command line.
//
//	pluginhost discover [--json]
//	pluginhost load <plugin-name> | --startup
//	pluginhost serve
//
// Every command accepts --config, --log-level, --builtin-dir and --user-dir;
// flags override the configuration file and PLUGINHOST_* variables.
package cli
