package virtual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-hub/internal/module"
)

// DriverName is the catalogue name of this module.
const DriverName = "virtual"

// ErrInvalidOptions is returned for unusable module options.
var ErrInvalidOptions = errors.New("virtual: invalid options")

// Options are the module options.
type Options struct {
	Devices []DeviceConfig `yaml:"devices"`
}

// Register adds the virtual module to a catalogue.
func Register(c *module.Catalog) error {
	return c.Register(DriverName, New)
}

// Module announces the configured devices on discovery.
type Module struct {
	name    string
	signals module.Signals
	logger  module.Logger

	mu      sync.Mutex
	devices map[string]*Device
	online  map[string]bool
}

var _ module.Closer = (*Module)(nil)

// New is the module.Factory for virtual devices.
func New(_ context.Context, env module.Env) (module.Module, error) {
	opts, err := parseOptions(env.Options)
	if err != nil {
		return nil, err
	}
	if env.Signals == nil {
		return nil, fmt.Errorf("%w: no signals", ErrInvalidOptions)
	}

	var logger module.Logger = slog.New(slog.DiscardHandler)
	if env.Logger != nil {
		logger = env.Logger
	}

	m := &Module{
		name:    env.Name,
		signals: env.Signals,
		logger:  logger,
		devices: make(map[string]*Device, len(opts.Devices)),
		online:  make(map[string]bool),
	}
	for _, cfg := range opts.Devices {
		m.devices[cfg.ID] = newDevice(env.Name, cfg)
	}
	return m, nil
}

func parseOptions(raw map[string]any) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	// Options arrive as decoded YAML; round-trip them into the typed form.
	data, err := yaml.Marshal(raw)
	if err != nil {
		return opts, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	var errs []error
	seen := make(map[string]bool)
	for i, d := range opts.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Errorf("devices[%d]: id is required", i))
		case seen[d.ID]:
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
		if d.Kind != KindSwitch && d.Kind != KindDimmer {
			errs = append(errs, fmt.Errorf("devices[%d]: kind must be %q or %q", i, KindSwitch, KindDimmer))
		}
	}
	if len(errs) > 0 {
		return opts, fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
	}
	return opts, nil
}

// Discover announces every device that is not online yet.
func (m *Module) Discover(context.Context) error {
	for _, d := range m.pending() {
		m.logger.Debug("virtual device found", "device", d.ID())
		m.signals.DeviceOnline(d)
	}
	return nil
}

func (m *Module) pending() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Device
	for id, d := range m.devices {
		if m.online[id] {
			continue
		}
		m.online[id] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// StopDiscover is a no-op; discovery completes within Discover.
func (m *Module) StopDiscover(context.Context) error { return nil }

// Device returns a configured device by id.
func (m *Module) Device(id string) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	return d, ok
}

// Remove takes a device offline, as if it had been unplugged.
func (m *Module) Remove(id string) bool {
	m.mu.Lock()
	d, ok := m.devices[id]
	wasOnline := m.online[id]
	delete(m.online, id)
	m.mu.Unlock()
	if !ok || !wasOnline {
		return false
	}
	m.signals.DeviceOffline(d)
	return true
}

// Close takes every device offline.
func (m *Module) Close(context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.online))
	for id := range m.online {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Remove(id)
	}
	return nil
}
