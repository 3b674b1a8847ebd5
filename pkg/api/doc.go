// Package api provides the HTTP admin API of the plugin host.
//
// # Routes
//
//	GET  /api/v1/plugins             list discovered plugins with their state
//	GET  /api/v1/plugins/{name}      one plugin, 404 when not discovered
//	POST /api/v1/plugins/discover    rerun discovery and return the new registry
//	POST /api/v1/plugins/{name}/load load a plugin; 422 when the plugin itself fails
//	GET  /health/live, /health/ready probes
//	GET  /metrics                    Prometheus exposition
//
// # Usage Example
//
//	server := api.NewServer(manager, health, metrics, registry, logger)
//	http.ListenAndServe(cfg.Server.Addr(), server)
package api
