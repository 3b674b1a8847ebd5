package plugins

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/pluginhost/pkg/events"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Subscriber is the part of an event bus the manager binds to
type Subscriber interface {
	Subscribe(topic string, handler events.Handler) func()
}

// Manager discovers plugins under its roots and loads them on request
type Manager struct {
	scanner     *Scanner
	loader      *Loader
	modules     *ModuleRegistry
	publisher   Publisher
	metrics     *observability.Metrics
	log         logrus.FieldLogger
	loadTimeout time.Duration
	luaModules  map[string]map[string]lua.LGFunction

	registry atomic.Pointer[Registry]

	scanMu sync.Mutex
	loadMu sync.Mutex

	pendingMu sync.Mutex
	loading   bool
	pending   []pendingMessage

	activeMu sync.Mutex
	active   map[string]struct{}
}

type pendingMessage struct {
	topic   string
	payload any
}

// hostPublisher receives host.publish calls from plugin code
type hostPublisher struct {
	m *Manager
}

func (p hostPublisher) Publish(ctx context.Context, topic string, payload any) {
	m := p.m

	m.pendingMu.Lock()
	if m.loading {
		m.pending = append(m.pending, pendingMessage{topic: topic, payload: payload})
		m.pendingMu.Unlock()
		return
	}
	m.pendingMu.Unlock()

	m.publish(ctx, topic, payload)
}

// Option configures a Manager
type Option func(*Manager)

// WithPublisher sets where discovery results and host.publish messages go
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithModuleRegistry sets the registry loaded units are bound into.
// Defaults to DefaultModules.
func WithModuleRegistry(modules *ModuleRegistry) Option {
	return func(m *Manager) {
		m.modules = modules
	}
}

// WithMetrics records discovery and load metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithModule makes a Go-implemented Lua module available to every plugin via require(name)
func WithModule(name string, funcs map[string]lua.LGFunction) Option {
	return func(m *Manager) {
		m.luaModules[name] = funcs
	}
}

// WithLoadTimeout bounds each load; zero means no bound
func WithLoadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.loadTimeout = d
	}
}

// NewManager creates a manager scanning roots in order. The registry starts empty.
func NewManager(roots []string, log logrus.FieldLogger, opts ...Option) *Manager {
	if log == nil {
		log = logrus.New()
	}

	m := &Manager{
		modules:    DefaultModules,
		log:        log.WithField("component", "plugins"),
		luaModules: make(map[string]map[string]lua.LGFunction),
		active:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.modules == nil {
		m.modules = DefaultModules
	}

	m.scanner = NewScanner(roots, m.log)

	loaderOpts := []LoaderOption{WithLoaderPublisher(hostPublisher{m: m})}
	for name, funcs := range m.luaModules {
		loaderOpts = append(loaderOpts, WithLoaderModule(name, funcs))
	}
	m.loader = NewLoader(m.modules, m.log, loaderOpts...)

	m.registry.Store(NewRegistry())
	return m
}

// Roots returns the scanned directories
func (m *Manager) Roots() []string {
	return m.scanner.Roots()
}

// Modules returns the module registry loaded units are bound into
func (m *Manager) Modules() *ModuleRegistry {
	return m.modules
}

// Registry returns the registry built by the latest discovery run
func (m *Manager) Registry() *Registry {
	return m.registry.Load()
}

// State reports where name is in its lifecycle
func (m *Manager) State(name string) State {
	if !m.Registry().Has(name) {
		return StateUndiscovered
	}
	if m.modules.Has(name) {
		return StateLoaded
	}
	return StateDiscovered
}

// FindPlugins rebuilds the registry from the manifests currently on disk, swaps it
// in and publishes it. Bad manifests are logged and skipped. A scan cut short by
// ctx keeps the previous registry and publishes nothing.
func (m *Manager) FindPlugins(ctx context.Context) *Registry {
	if ctx == nil {
		ctx = context.Background()
	}

	m.scanMu.Lock()
	start := time.Now()

	paths, err := m.manifestPaths(ctx)
	if err != nil {
		current := m.Registry()
		m.scanMu.Unlock()
		m.log.WithError(err).WithField("count", current.Len()).
			Warn("Plugin scan abandoned; keeping the previous registry")
		return current
	}

	var records []Record
	for _, path := range paths {
		if rec, ok := m.readManifest(path); ok {
			records = append(records, rec)
		}
	}

	registry := NewRegistry(records...)
	m.registry.Store(registry)

	m.metrics.ObserveDiscovery(time.Since(start), registry.Len())
	m.log.WithField("count", registry.Len()).Infof("Discovered %d plugins", registry.Len())
	m.scanMu.Unlock()

	m.publish(ctx, events.TopicPluginsDiscovered, registry)
	return registry
}

// manifestPaths enumerates manifests, converting a scanner panic into an error
func (m *Manager) manifestPaths(ctx context.Context) (paths []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Unexpected failure scanning plugin directories")
			paths, err = nil, observability.MustRecover(r)
		}
	}()

	return m.scanner.ManifestPaths(ctx)
}

// readManifest loads one manifest, logging and counting any failure
func (m *Manager) readManifest(path string) (rec Record, ok bool) {
	log := m.log.WithField("manifest", path)

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Unexpected failure reading plugin manifest")
			m.metrics.ManifestSkipped("unexpected")
			rec, ok = Record{}, false
		}
	}()

	manifest, err := LoadManifest(path)
	if err != nil {
		m.manifestFailed(log, err)
		return Record{}, false
	}

	return manifest.Record(), true
}

func (m *Manager) manifestFailed(log logrus.FieldLogger, err error) {
	m.metrics.ManifestSkipped(manifestReason(err))

	var missing *MissingKeyError
	switch {
	case errors.Is(err, ErrManifestNotFound):
		log.WithError(err).Warn("Plugin manifest disappeared before it could be read")
	case errors.Is(err, ErrMalformedManifest):
		log.WithError(err).Warn("Skipping malformed plugin manifest")
	case errors.As(err, &missing):
		log.WithField("key", missing.Key).Warnf("Skipping plugin manifest without %q", missing.Key)
	case errors.Is(err, ErrMissingKey):
		log.WithError(err).Warn("Skipping plugin manifest with missing key")
	default:
		log.WithError(err).WithField("error_type", fmt.Sprintf("%T", err)).
			Error("Unexpected failure reading plugin manifest")
	}
}

// LoadPlugin executes the named plugin and calls its load() entry point.
// A name missing from the current registry is ignored and nil is returned.
// Failures are logged and returned; the plugin stays Discovered.
//
// Messages plugin code publishes while loading are delivered after the load
// finishes, so a plugin can request that another plugin be loaded. A request for
// a plugin whose load is still running, such as a plugin asking for itself,
// fails with ErrLoadInProgress.
func (m *Manager) LoadPlugin(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	rec, ok := m.Registry().Get(name)
	if !ok {
		return nil
	}

	if !m.begin(name) {
		err := fmt.Errorf("%w: %s", ErrLoadInProgress, name)
		m.log.WithField("plugin", name).WithError(err).Error("Refusing re-entrant plugin load")
		return err
	}
	defer m.end(name)

	m.loadMu.Lock()
	m.setLoading(true)
	err := m.load(ctx, rec)
	pending := m.setLoading(false)
	m.loadMu.Unlock()

	for _, msg := range pending {
		m.publish(ctx, msg.topic, msg.payload)
	}
	return err
}

// begin marks name as loading; false means a load of name is already running
func (m *Manager) begin(name string) bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	if _, busy := m.active[name]; busy {
		return false
	}
	m.active[name] = struct{}{}
	return true
}

func (m *Manager) end(name string) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	delete(m.active, name)
}

func (m *Manager) load(ctx context.Context, rec Record) error {
	if m.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.loadTimeout)
		defer cancel()
	}

	log := m.log.WithFields(logrus.Fields{
		"plugin":     rec.Name,
		"folder":     rec.Folder,
		"attempt_id": uuid.New().String(),
	})
	log.Debug("Loading plugin")

	start := time.Now()
	_, err := m.loadUnit(ctx, rec)
	m.metrics.ObserveLoad(rec.Name, time.Since(start), err, m.modules.Count())

	if err != nil {
		m.loadFailed(log, err)
		return err
	}

	log.Info("Plugin loaded")
	return nil
}

// setLoading marks whether a load is running and returns the messages queued
// while it ran
func (m *Manager) setLoading(loading bool) []pendingMessage {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	m.loading = loading
	pending := m.pending
	m.pending = nil
	return pending
}

// loadUnit runs the loader, converting a panic that escaped it into an error
func (m *Manager) loadUnit(ctx context.Context, rec Record) (unit *Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			unit = nil
			err = &ExecError{
				Plugin: rec.Name,
				Stage:  "load",
				Err:    observability.MustRecover(r),
				Trace:  string(debug.Stack()),
			}
		}
	}()

	return m.loader.Load(ctx, rec)
}

func (m *Manager) loadFailed(log logrus.FieldLogger, err error) {
	var execErr *ExecError
	switch {
	case isExpectedLoadError(err):
		log.WithError(err).Error("Plugin could not be loaded")
	case errors.Is(err, ErrNoEntryPoint):
		log.WithError(err).Error("Plugin does not expose a load function")
	case errors.As(err, &execErr):
		log.WithError(err).WithFields(logrus.Fields{
			"stage": execErr.Stage,
			"trace": execErr.Trace,
		}).Error("Plugin raised an error while loading")
	default:
		log.WithError(err).WithField("error_type", fmt.Sprintf("%T", err)).
			Error("Unexpected failure loading plugin")
	}
}

// LoadStartupPlugins loads every discovered plugin flagged enable-startup, in name
// order. All plugins are attempted; the failures are joined.
func (m *Manager) LoadStartupPlugins(ctx context.Context) error {
	var errs []error
	for _, rec := range m.Registry().Records() {
		if !rec.EnableStartup {
			continue
		}
		if err := m.LoadPlugin(ctx, rec.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bind subscribes the manager to load requests on bus. The returned function
// removes the subscription.
func (m *Manager) Bind(bus Subscriber) func() {
	return bus.Subscribe(events.TopicLoadPlugin, func(ctx context.Context, event events.Event) {
		name, ok := event.Payload.(string)
		if !ok {
			m.log.WithFields(logrus.Fields{
				"event_id":     event.ID.String(),
				"payload_type": fmt.Sprintf("%T", event.Payload),
			}).Warn("Ignoring load request without a plugin name")
			return
		}

		// already logged by LoadPlugin
		_ = m.LoadPlugin(ctx, name)
	})
}

func (m *Manager) publish(ctx context.Context, topic string, payload any) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(ctx, topic, payload)
	m.metrics.EventPublished(topic)
}
