package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/pluginhost/pkg/api"
	"github.com/platinummonkey/pluginhost/pkg/config"
	"github.com/platinummonkey/pluginhost/pkg/events"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/platinummonkey/pluginhost/pkg/watch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(opts *globalOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host with its admin API",
		Long: `Discover plugins, load the startup plugins and serve the admin API until
interrupted. Depending on configuration the host also rediscovers on
filesystem changes or on a cron schedule, and bridges events to Redis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			host, err := newHost(cfg, newLogger(cfg, cmd.ErrOrStderr()), version)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Server.Addr())
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr(), err)
			}
			return host.Run(ctx, ln)
		},
	}
}

// host wires the plugin manager to the admin API, the rescan triggers and the
// event bus for the lifetime of the serve command
type host struct {
	cfg     *config.Config
	log     *logrus.Logger
	bus     *events.Bus
	manager *plugins.Manager
	redis   *redis.Client
	server  *http.Server

	shutdown *observability.ShutdownManager
}

func newHost(cfg *config.Config, log *logrus.Logger, version string) (*host, error) {
	h := &host{
		cfg:      cfg,
		log:      log,
		bus:      events.NewBus(log),
		shutdown: observability.NewShutdownManager(log, cfg.Server.ShutdownTimeout),
	}

	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		h.redis = redis.NewClient(redisOpts)
	}

	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
		gatherer = registry
	}

	h.manager = plugins.NewManager(cfg.Plugins.Roots(), log,
		plugins.WithPublisher(h.bus),
		plugins.WithModuleRegistry(plugins.NewModuleRegistry()),
		plugins.WithMetrics(metrics),
		plugins.WithLoadTimeout(cfg.Plugins.LoadTimeout),
	)

	health := observability.NewHealthChecker(h.redis, version)
	health.AddCheck("plugins", h.checkPluginDirs)

	h.server = &http.Server{
		Handler:      api.NewServer(h.manager, health, metrics, gatherer, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return h, nil
}

// checkPluginDirs fails when none of the plugin roots can be read
func (h *host) checkPluginDirs(context.Context) error {
	for _, root := range h.manager.Roots() {
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			return nil
		}
	}
	return errors.New("no plugin directory is readable")
}

func (h *host) rescan(ctx context.Context) {
	h.manager.FindPlugins(ctx)
}

// Run serves on ln until ctx is cancelled or a component fails
func (h *host) Run(ctx context.Context, ln net.Listener) error {
	var runners []func(context.Context) error

	if h.cfg.Plugins.Watch {
		w, err := watch.NewWatcher(h.cfg.Plugins.Roots(), plugins.ManifestFile, h.cfg.Plugins.WatchDebounce, h.rescan, h.log)
		if err != nil {
			_ = ln.Close()
			return err
		}
		runners = append(runners, w.Run)
	}

	if h.cfg.Plugins.RescanSchedule != "" {
		s, err := watch.NewScheduler(h.cfg.Plugins.RescanSchedule, h.rescan, h.log)
		if err != nil {
			_ = ln.Close()
			return err
		}
		runners = append(runners, s.Run)
	}

	if h.redis != nil {
		bridge := events.NewRedisBridge(h.redis, h.bus, h.cfg.Redis.Prefix, h.log)
		runners = append(runners, func(ctx context.Context) error {
			// losing Redis only degrades the host
			if err := bridge.Run(ctx); err != nil {
				h.log.WithError(err).Error("Redis bridge stopped")
			}
			return nil
		})
	}

	unbind := h.manager.Bind(h.bus)

	// Registered first so it runs last
	h.shutdown.Register("plugins", func(context.Context) error {
		unbind()
		h.manager.Modules().Clear()
		return nil
	})
	if h.redis != nil {
		h.shutdown.Register("redis", func(context.Context) error {
			return h.redis.Close()
		})
	}
	h.shutdown.Register("http", h.server.Shutdown)

	h.manager.FindPlugins(ctx)
	if h.cfg.Plugins.AutoStartup {
		if err := h.manager.LoadStartupPlugins(ctx); err != nil {
			h.log.WithError(err).Warn("Some startup plugins failed to load")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h.log.WithField("addr", ln.Addr().String()).Info("Admin API listening")
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin API failed: %w", err)
		}
		return nil
	})

	for _, run := range runners {
		run := run
		g.Go(func() error { return run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		h.log.Info("Shutting down")
		return h.shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}
