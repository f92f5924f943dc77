package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// DefaultDiscoverWindow bounds auto-discovery after a module loads.
const DefaultDiscoverWindow = 5 * time.Second

// Listener receives device signals from every loaded module. The hub's
// device manager implements it.
type Listener interface {
	DeviceOnline(module string, driver device.Driver)
	DeviceOffline(module string, driver device.Driver)

	// PurgeModule removes every device of a module. It is called before a
	// module is unloaded or replaced.
	PurgeModule(module string)
}

// Options configure a Manager.
type Options struct {
	// AutoDiscover starts discovery on every module as it loads, and
	// force-stops it after DiscoverWindow.
	AutoDiscover   bool
	DiscoverWindow time.Duration

	// MQTT is passed to module factories. May be nil.
	MQTT *mqtt.Client

	// Fetcher and Metadata back InstallFromRegistry and Uninstall.
	Fetcher  Fetcher
	Metadata MetadataStore
	Registry config.RegistryConfig

	Logger Logger
}

// Info describes a loaded module.
type Info struct {
	Name          string        `json:"name"`
	Driver        string        `json:"driver"`
	Version       string        `json:"version"`
	DiscoverState DiscoverState `json:"discover_state"`
	LoadedAt      time.Time     `json:"loaded_at"`
}

type record struct {
	name     string
	driver   string
	version  string
	options  map[string]any
	module   Module
	state    DiscoverState
	loadedAt time.Time
	window   *time.Timer
}

func (r *record) info() Info {
	return Info{Name: r.name, Driver: r.driver, Version: r.version, DiscoverState: r.state, LoadedAt: r.loadedAt}
}

// Manager owns the set of loaded modules.
type Manager struct {
	catalog  *Catalog
	listener Listener
	opts     Options
	logger   Logger

	mu       sync.RWMutex
	modules  map[string]*record
	building map[string]*record
}

// NewManager creates a manager that loads modules from catalog and sends
// their device signals to listener.
func NewManager(catalog *Catalog, listener Listener, opts Options) *Manager {
	if opts.DiscoverWindow <= 0 {
		opts.DiscoverWindow = DefaultDiscoverWindow
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Manager{
		catalog:  catalog,
		listener: listener,
		opts:     opts,
		logger:   opts.Logger,
		modules:  make(map[string]*record),
		building: make(map[string]*record),
	}
}

// signals routes a module's device signals to the listener, as long as the
// record is the loaded instance or the one under construction.
type signals struct {
	m   *Manager
	rec *record
}

func (s signals) DeviceOnline(driver device.Driver) {
	if !s.m.current(s.rec) {
		s.m.logger.Warn("device online from unloaded module ignored", "module", s.rec.name)
		return
	}
	s.m.listener.DeviceOnline(s.rec.name, driver)
}

func (s signals) DeviceOffline(driver device.Driver) {
	if !s.m.current(s.rec) {
		return
	}
	s.m.listener.DeviceOffline(s.rec.name, driver)
}

func (m *Manager) current(rec *record) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modules[rec.name] == rec || m.building[rec.name] == rec
}

// Load creates an instance of driver named name. Loading over an existing
// name replaces it: the old instance's devices are purged first. A factory
// that fails or panics leaves nothing loaded. Devices a factory announces
// while it runs are accepted, and purged again if it fails.
func (m *Manager) Load(ctx context.Context, name, driver, version string, options map[string]any) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	factory, ok := m.catalog.Lookup(driver)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}

	m.mu.Lock()
	old := m.modules[name]
	delete(m.modules, name)
	m.mu.Unlock()
	if old != nil {
		m.logger.Info("reloading module", "module", name)
		m.release(ctx, old)
	}

	rec := &record{name: name, driver: driver, version: version, options: options, state: StateStopped, loadedAt: time.Now().UTC()}
	env := Env{
		Name:    name,
		Version: version,
		Options: options,
		Signals: signals{m: m, rec: rec},
		Logger:  moduleLogger{base: m.logger, name: name},
		MQTT:    m.opts.MQTT,
	}

	m.mu.Lock()
	m.building[name] = rec
	m.mu.Unlock()

	mod, err := construct(ctx, factory, env)

	m.mu.Lock()
	delete(m.building, name)
	if err == nil {
		rec.module = mod
		m.modules[name] = rec
	}
	m.mu.Unlock()

	if err != nil {
		m.listener.PurgeModule(name)
		m.logger.Error("module failed to load", "module", name, "driver", driver, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrLoadFailed, name, err)
	}
	m.logger.Info("module loaded", "module", name, "driver", driver, "version", version)

	if m.opts.AutoDiscover {
		m.startDiscover(ctx, rec)
		m.mu.Lock()
		rec.window = time.AfterFunc(m.opts.DiscoverWindow, func() {
			m.stopDiscover(context.Background(), rec)
		})
		m.mu.Unlock()
	}
	return nil
}

func construct(ctx context.Context, factory Factory, env Env) (mod Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			mod, err = nil, fmt.Errorf("factory panicked: %v", r)
		}
	}()
	mod, err = factory(ctx, env)
	if err == nil && mod == nil {
		err = errors.New("factory returned no module")
	}
	return mod, err
}

// LoadAll loads the enabled entries. Failures are logged and skipped; it
// returns the number of modules loaded.
func (m *Manager) LoadAll(ctx context.Context, entries []config.ModuleEntry) int {
	loaded := 0
	for _, e := range entries {
		if !e.IsEnabled() {
			m.logger.Debug("module disabled", "module", e.Name)
			continue
		}
		if err := m.Load(ctx, e.Name, e.Driver, e.Version, e.Options); err != nil {
			m.logger.Warn("skipping module", "module", e.Name, "error", err)
			continue
		}
		loaded++
	}
	return loaded
}

// Reload replaces a loaded module with a fresh instance built from the same
// driver, version and options.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.RLock()
	rec, ok := m.modules[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return m.Load(ctx, name, rec.driver, rec.version, rec.options)
}

// Unload purges the module's devices and releases it.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	rec, ok := m.modules[name]
	delete(m.modules, name)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	m.release(ctx, rec)
	m.logger.Info("module unloaded", "module", name)
	return nil
}

// release purges devices, stops discovery and closes the module. rec must
// already be out of the map.
func (m *Manager) release(ctx context.Context, rec *record) {
	m.listener.PurgeModule(rec.name)

	m.mu.Lock()
	if rec.window != nil {
		rec.window.Stop()
	}
	discovering := rec.state == StateDiscovering
	rec.state = StateStopped
	m.mu.Unlock()

	if discovering {
		if err := rec.module.StopDiscover(ctx); err != nil {
			m.logger.Warn("stop discover on unload failed", "module", rec.name, "error", err)
		}
	}
	if c, ok := rec.module.(Closer); ok {
		if err := c.Close(ctx); err != nil {
			m.logger.Warn("module close failed", "module", rec.name, "error", err)
		}
	}
}

// DiscoverAll starts discovery on every stopped module.
func (m *Manager) DiscoverAll(ctx context.Context) {
	for _, rec := range m.records() {
		m.startDiscover(ctx, rec)
	}
}

// StopDiscoverAll stops discovery on every discovering module.
func (m *Manager) StopDiscoverAll(ctx context.Context) {
	for _, rec := range m.records() {
		m.stopDiscover(ctx, rec)
	}
}

func (m *Manager) startDiscover(ctx context.Context, rec *record) {
	m.mu.Lock()
	if m.modules[rec.name] != rec || rec.state == StateDiscovering {
		m.mu.Unlock()
		return
	}
	rec.state = StateDiscovering
	m.mu.Unlock()

	if err := rec.module.Discover(ctx); err != nil {
		m.logger.Warn("discover failed", "module", rec.name, "error", err)
		m.mu.Lock()
		rec.state = StateStopped
		m.mu.Unlock()
		return
	}
	m.logger.Debug("discovery started", "module", rec.name)
}

func (m *Manager) stopDiscover(ctx context.Context, rec *record) {
	m.mu.Lock()
	if m.modules[rec.name] != rec || rec.state != StateDiscovering {
		m.mu.Unlock()
		return
	}
	rec.state = StateStopped
	if rec.window != nil {
		rec.window.Stop()
		rec.window = nil
	}
	m.mu.Unlock()

	if err := rec.module.StopDiscover(ctx); err != nil {
		m.logger.Warn("stop discover failed", "module", rec.name, "error", err)
		return
	}
	m.logger.Debug("discovery stopped", "module", rec.name)
}

func (m *Manager) records() []*record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*record, 0, len(m.modules))
	for _, rec := range m.modules {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// IsDiscovering reports whether the named module is discovering.
func (m *Manager) IsDiscovering(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.modules[name]
	return ok && rec.state == StateDiscovering
}

// Get returns the info of a loaded module.
func (m *Manager) Get(name string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.modules[name]
	if !ok {
		return Info{}, false
	}
	return rec.info(), true
}

// Instance returns the loaded module value, for callers that need the
// driver-specific API.
func (m *Manager) Instance(name string) (Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.modules[name]
	if !ok {
		return nil, false
	}
	return rec.module, true
}

// List returns the loaded modules sorted by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.modules))
	for _, rec := range m.modules {
		out = append(out, rec.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of loaded modules.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.modules)
}

// Close stops discovery and unloads every module.
func (m *Manager) Close(ctx context.Context) {
	m.StopDiscoverAll(ctx)
	for _, rec := range m.records() {
		if err := m.Unload(ctx, rec.name); err != nil && !errors.Is(err, ErrModuleNotFound) {
			m.logger.Warn("unload failed", "module", rec.name, "error", err)
		}
	}
}
