package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pluginhost/pkg/httputil"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// PluginManager is the part of plugins.Manager the API drives
type PluginManager interface {
	Registry() *plugins.Registry
	State(name string) plugins.State
	FindPlugins(ctx context.Context) *plugins.Registry
	LoadPlugin(ctx context.Context, name string) error
}

// Server represents the admin API server
type Server struct {
	manager  PluginManager
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger

	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server. health, metrics and gatherer may be nil;
// the matching routes or instrumentation are then left out.
func NewServer(manager PluginManager, health *observability.HealthChecker, metrics *observability.Metrics, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		manager:  manager,
		health:   health,
		metrics:  metrics,
		gatherer: gatherer,
		log:      log.WithField("component", "api"),
		router:   mux.NewRouter(),
	}

	s.setupRoutes()
	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.log),
		httputil.LoggingMiddleware(s.log),
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found: "+r.URL.Path)
	})

	// Plugin routes
	s.router.HandleFunc("/api/v1/plugins", s.listPlugins).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/plugins/discover", s.discoverPlugins).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/plugins/{name}", s.getPlugin).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/plugins/{name}/load", s.loadPlugin).Methods(http.MethodPost)

	if s.health != nil {
		s.router.HandleFunc("/health/live", s.health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.health.Readiness).Methods(http.MethodGet)
	}

	if s.gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.gatherer)).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routeTemplate labels metrics by route pattern rather than by plugin name
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
