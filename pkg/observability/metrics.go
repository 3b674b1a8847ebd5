package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Load outcomes used as the status label of PluginLoadsTotal
const (
	LoadStatusLoaded = "loaded"
	LoadStatusFailed = "failed"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Discovery metrics
	DiscoveryRunsTotal  prometheus.Counter
	DiscoveryDuration   prometheus.Histogram
	DiscoveredPlugins   prometheus.Gauge
	ManifestErrorsTotal *prometheus.CounterVec

	// Load metrics
	PluginLoadsTotal   *prometheus.CounterVec
	PluginLoadDuration *prometheus.HistogramVec
	LoadedPlugins      prometheus.Gauge

	// Event metrics
	EventsPublishedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluginhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		// Discovery metrics
		DiscoveryRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pluginhost_discovery_runs_total",
				Help: "Total number of discovery runs",
			},
		),
		DiscoveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pluginhost_discovery_duration_seconds",
				Help:    "Discovery run duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		DiscoveredPlugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pluginhost_discovered_plugins",
				Help: "Number of plugins in the current registry",
			},
		),
		ManifestErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginhost_manifest_errors_total",
				Help: "Total number of manifests skipped during discovery",
			},
			[]string{"reason"},
		),

		// Load metrics
		PluginLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginhost_plugin_loads_total",
				Help: "Total number of plugin load attempts",
			},
			[]string{"plugin", "status"},
		),
		PluginLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluginhost_plugin_load_duration_seconds",
				Help:    "Plugin load duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"plugin"},
		),
		LoadedPlugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pluginhost_loaded_plugins",
				Help: "Number of plugin units currently registered",
			},
		),

		// Event metrics
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginhost_events_published_total",
				Help: "Total number of events published by the plugin manager",
			},
			[]string{"topic"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DiscoveryRunsTotal,
		m.DiscoveryDuration,
		m.DiscoveredPlugins,
		m.ManifestErrorsTotal,
		m.PluginLoadsTotal,
		m.PluginLoadDuration,
		m.LoadedPlugins,
		m.EventsPublishedTotal,
	)

	return m
}

// ObserveDiscovery records a completed discovery run
func (m *Metrics) ObserveDiscovery(duration time.Duration, plugins int) {
	if m == nil {
		return
	}
	m.DiscoveryRunsTotal.Inc()
	m.DiscoveryDuration.Observe(duration.Seconds())
	m.DiscoveredPlugins.Set(float64(plugins))
}

// ManifestSkipped counts a manifest dropped from a discovery run
func (m *Metrics) ManifestSkipped(reason string) {
	if m == nil {
		return
	}
	m.ManifestErrorsTotal.WithLabelValues(reason).Inc()
}

// ObserveLoad records a plugin load attempt and the resulting number of loaded units
func (m *Metrics) ObserveLoad(plugin string, duration time.Duration, err error, loaded int) {
	if m == nil {
		return
	}
	status := LoadStatusLoaded
	if err != nil {
		status = LoadStatusFailed
	}
	m.PluginLoadsTotal.WithLabelValues(plugin, status).Inc()
	m.PluginLoadDuration.WithLabelValues(plugin).Observe(duration.Seconds())
	m.LoadedPlugins.Set(float64(loaded))
}

// EventPublished counts an outbound event
func (m *Metrics) EventPublished(topic string) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(topic).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// route names the label value; it lets callers avoid per-plugin path cardinality.
func HTTPMetricsMiddleware(metrics *Metrics, route func(*http.Request) string) func(http.Handler) http.Handler {
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}

	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			name := route(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
