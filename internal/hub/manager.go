package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/identity"
	"github.com/nerrad567/gray-logic-hub/internal/session"
	"github.com/nerrad567/gray-logic-hub/internal/subscription"
)

// Logger defines the logging interface used by the package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Modules is the part of module.Manager the hub drives.
type Modules interface {
	IsDiscovering(name string) bool
	DiscoverAll(ctx context.Context)
	StopDiscoverAll(ctx context.Context)
	Close(ctx context.Context)
}

// AuthDelegates resolves per-module authorisation delegates. *oauth.Registry
// implements it.
type AuthDelegates interface {
	Delegate(module string) (device.AuthDelegate, bool)
	VerifyState(state string) (string, error)
}

// Options configure a Manager. Only Identity is required.
type Options struct {
	Identity      identity.Store
	Subscriptions *subscription.Registry
	OAuth         AuthDelegates
	Publisher     EventPublisher
	Telemetry     Telemetry
	QoS           byte
	DeviceTimeout time.Duration
	Hash          device.HashParams
	Logger        Logger
}

// DeviceInfo summarises a published device.
type DeviceInfo struct {
	ID              string                 `json:"id"`
	Module          string                 `json:"module"`
	HardwareAddress string                 `json:"hardware_address"`
	FriendlyName    string                 `json:"friendly_name"`
	DeviceType      string                 `json:"device_type"`
	Connection      device.ConnectionState `json:"connection"`
	OnlineAt        time.Time              `json:"online_at"`
}

// Stats are point-in-time counters for health and metrics endpoints.
type Stats struct {
	Devices     int `json:"devices"`
	Connected   int `json:"connected"`
	Subscribers int `json:"subscribers"`
}

type record struct {
	module   string
	driver   device.Driver
	base     *device.Base
	onlineAt time.Time
}

func (r *record) info() DeviceInfo {
	spec := r.base.Spec()
	return DeviceInfo{
		ID:              r.base.ID(),
		Module:          r.module,
		HardwareAddress: r.base.HardwareAddress(),
		FriendlyName:    spec.FriendlyName,
		DeviceType:      spec.DeviceType,
		Connection:      r.base.ConnectionState(),
		OnlineAt:        r.onlineAt,
	}
}

// Manager owns the set of online devices.
type Manager struct {
	identity identity.Store
	subs     *subscription.Registry
	oauth    AuthDelegates
	timeout  time.Duration
	hash     device.HashParams
	logger   Logger
	mirror   *mirror

	modMu   sync.RWMutex
	modules Modules

	mu       sync.RWMutex
	devices  map[string]*record
	byDriver map[device.Driver]*record
}

// New creates a Manager. Call SetModules once the module manager exists.
func New(opts Options) (*Manager, error) {
	if opts.Identity == nil {
		return nil, ErrNoIdentityStore
	}
	if opts.Subscriptions == nil {
		opts.Subscriptions = subscription.NewRegistry()
	}
	if opts.DeviceTimeout <= 0 {
		opts.DeviceTimeout = session.DefaultDeviceTimeout
	}
	if opts.Hash.Time == 0 {
		opts.Hash = device.DefaultHashParams
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &Manager{
		identity: opts.Identity,
		subs:     opts.Subscriptions,
		oauth:    opts.OAuth,
		timeout:  opts.DeviceTimeout,
		hash:     opts.Hash,
		logger:   logger,
		mirror:   newMirror(opts.Publisher, opts.Telemetry, opts.QoS, logger),
		devices:  make(map[string]*record),
		byDriver: make(map[device.Driver]*record),
	}, nil
}

// SetModules attaches the module manager.
func (m *Manager) SetModules(mods Modules) {
	m.modMu.Lock()
	m.modules = mods
	m.modMu.Unlock()
}

func (m *Manager) moduleSet() Modules {
	m.modMu.RLock()
	defer m.modMu.RUnlock()
	return m.modules
}

// Subscriptions returns the subscriber registry.
func (m *Manager) Subscriptions() *subscription.Registry { return m.subs }

func (m *Manager) sessionOptions() session.Options {
	return session.Options{Timeout: m.timeout, Logger: m.logger}
}

// DeviceOnline publishes a device announced by module. Devices whose
// specification cannot be read or validated are dropped.
func (m *Manager) DeviceOnline(module string, driver device.Driver) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	rec, err := m.admit(ctx, module, driver)
	if err != nil {
		m.logger.Warn("device dropped", "module", module, "error", err)
		return
	}

	m.mu.Lock()
	old := m.devices[rec.base.ID()]
	if old != nil {
		delete(m.byDriver, old.driver)
	}
	m.devices[rec.base.ID()] = rec
	m.byDriver[driver] = rec
	m.mu.Unlock()

	if old != nil {
		old.base.MarkOffline()
		m.subs.RemoveDevice(old.base.ID())
		m.logger.Info("device replaced", "device_id", rec.base.ID(), "module", module)
	}
	m.mirror.connection(rec.base.ID(), rec.base.ConnectionState())
	m.logger.Info("device online",
		"device_id", rec.base.ID(),
		"module", module,
		"hardware_address", rec.base.HardwareAddress(),
	)
}

func (m *Manager) admit(ctx context.Context, module string, driver device.Driver) (*record, error) {
	if driver == nil {
		return nil, fmt.Errorf("nil driver")
	}
	spec, err := driver.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading specification: %w", err)
	}
	if spec == nil {
		return nil, fmt.Errorf("driver returned no specification")
	}

	hwAddr := spec.HardwareAddress()
	if hwAddr == "" {
		if hwAddr, err = driver.HardwareAddress(ctx); err != nil {
			return nil, fmt.Errorf("reading hardware address: %w", err)
		}
	}

	var delegate device.AuthDelegate
	if m.oauth != nil {
		if d, ok := m.oauth.Delegate(module); ok {
			delegate = d
		}
	}

	base, err := device.NewBase(driver, spec, hwAddr, device.BaseOptions{
		Hash:     m.hash,
		Delegate: delegate,
		Logger:   m.logger,
	})
	if err != nil {
		return nil, err
	}

	id, created, err := m.identity.LookupOrAssign(ctx, hwAddr)
	if err != nil {
		return nil, fmt.Errorf("assigning id: %w", err)
	}
	if created {
		m.logger.Debug("assigned device id", "device_id", id, "hardware_address", hwAddr)
	}
	if cache, ok := m.identity.(identity.SpecCache); ok {
		if data, err := json.Marshal(spec); err == nil {
			if err := cache.SaveSpec(ctx, hwAddr, data); err != nil {
				m.logger.Warn("caching specification failed", "device_id", id, "error", err)
			}
		}
	}

	base.Bind(id, m.mirror.observe)
	return &record{module: module, driver: driver, base: base, onlineAt: time.Now().UTC()}, nil
}

// DeviceOffline withdraws the device backed by driver.
func (m *Manager) DeviceOffline(module string, driver device.Driver) {
	m.mu.Lock()
	rec, ok := m.byDriver[driver]
	if !ok || rec.module != module {
		m.mu.Unlock()
		return
	}
	delete(m.byDriver, driver)
	if m.devices[rec.base.ID()] == rec {
		delete(m.devices, rec.base.ID())
	}
	m.mu.Unlock()

	m.withdraw(rec)
	m.logger.Info("device offline", "device_id", rec.base.ID(), "module", module)
}

// PurgeModule withdraws every device of module.
func (m *Manager) PurgeModule(module string) {
	m.mu.Lock()
	var purged []*record
	for id, rec := range m.devices {
		if rec.module != module {
			continue
		}
		delete(m.devices, id)
		delete(m.byDriver, rec.driver)
		purged = append(purged, rec)
	}
	m.mu.Unlock()

	for _, rec := range purged {
		m.withdraw(rec)
	}
	if len(purged) > 0 {
		m.logger.Info("module devices purged", "module", module, "count", len(purged))
	}
}

func (m *Manager) withdraw(rec *record) {
	rec.base.MarkOffline()
	for _, sub := range m.subs.RemoveDevice(rec.base.ID()) {
		rec.base.Unsubscribe(sub, sub.Key().ServiceID) //nolint:errcheck // device is gone
	}
	m.mirror.connection(rec.base.ID(), device.StateDisconnected)
}

func (m *Manager) lookup(topic, deviceID string) (*record, error) {
	m.mu.RLock()
	rec, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(topic, deviceID)
	}
	return rec, nil
}

// ListDeviceIDs returns the ids of all online devices, sorted.
func (m *Manager) ListDeviceIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ListDevices returns a summary of every online device, sorted by id.
func (m *Manager) ListDevices() []DeviceInfo {
	m.mu.RLock()
	out := make([]DeviceInfo, 0, len(m.devices))
	for _, rec := range m.devices {
		out = append(out, rec.info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Device returns the summary of one device.
func (m *Manager) Device(deviceID string) (DeviceInfo, error) {
	rec, err := m.lookup("device", deviceID)
	if err != nil {
		return DeviceInfo{}, err
	}
	return rec.info(), nil
}

// GetSpec returns a copy of the device's specification.
func (m *Manager) GetSpec(deviceID string) (*device.Specification, error) {
	rec, err := m.lookup("spec", deviceID)
	if err != nil {
		return nil, err
	}
	return rec.base.Spec(), nil
}

// GetState returns the current state variables of a service.
func (m *Manager) GetState(deviceID, serviceID string) (map[string]any, error) {
	rec, err := m.lookup("state", deviceID)
	if err != nil {
		return nil, err
	}
	return rec.base.State(serviceID)
}

// Connect connects to a device. A non-nil Redirect means the caller must
// complete authentication at Redirect.Href.
func (m *Manager) Connect(ctx context.Context, deviceID, user, pass string) (device.ConnectionState, *device.Redirect, error) {
	const topic = "connect"
	rec, err := m.lookup(topic, deviceID)
	if err != nil {
		return device.StateDisconnected, nil, err
	}
	if mods := m.moduleSet(); mods != nil && mods.IsDiscovering(rec.module) {
		return rec.base.ConnectionState(), nil, device.ProtocolError(topic, device.ErrDiscovering,
			fmt.Sprintf("module %q is discovering", rec.module))
	}

	out, err := session.Run(ctx, rec.base, topic, m.sessionOptions(), func(ctx context.Context) (map[string]any, error) {
		state, redirect, err := rec.base.Connect(ctx, user, pass)
		if err != nil {
			return nil, err
		}
		return map[string]any{"state": state, "redirect": redirect}, nil
	})
	if err != nil {
		return rec.base.ConnectionState(), nil, err
	}

	state, _ := out["state"].(device.ConnectionState)
	redirect, _ := out["redirect"].(*device.Redirect)
	m.mirror.connection(deviceID, state)
	m.logger.Info("device connect", "device_id", deviceID, "state", state)
	return state, redirect, nil
}

// Disconnect disconnects from a device.
func (m *Manager) Disconnect(ctx context.Context, deviceID string) error {
	const topic = "disconnect"
	rec, err := m.lookup(topic, deviceID)
	if err != nil {
		return err
	}
	_, err = session.Run(ctx, rec.base, topic, m.sessionOptions(), func(ctx context.Context) (map[string]any, error) {
		return nil, rec.base.Disconnect(ctx)
	})
	if err != nil {
		return err
	}
	m.mirror.connection(deviceID, device.StateDisconnected)
	m.logger.Info("device disconnect", "device_id", deviceID)
	return nil
}

// InvokeAction runs an action on a connected device.
func (m *Manager) InvokeAction(ctx context.Context, deviceID, serviceID, action string, args map[string]any) (map[string]any, error) {
	const topic = "control"
	rec, err := m.lookup(topic, deviceID)
	if err != nil {
		return nil, err
	}
	return session.Run(ctx, rec.base, topic, m.sessionOptions(), func(ctx context.Context) (map[string]any, error) {
		return rec.base.Control(ctx, serviceID, action, args)
	})
}

// CompleteOAuth finishes a delegated connect. state is the signed value
// handed out in the redirect; it names the device.
func (m *Manager) CompleteOAuth(ctx context.Context, state string, params device.CallbackParams) (string, error) {
	const topic = "oauth"
	if m.oauth == nil {
		return "", device.ProtocolError(topic, device.ErrNoAuthStrategy, "no authorisation providers configured")
	}
	deviceID, err := m.oauth.VerifyState(state)
	if err != nil {
		return "", device.ProtocolError(topic, device.ErrCannotVerify, err.Error())
	}
	rec, err := m.lookup(topic, deviceID)
	if err != nil {
		return deviceID, err
	}
	_, err = session.Run(ctx, rec.base, topic, m.sessionOptions(), func(ctx context.Context) (map[string]any, error) {
		return nil, rec.base.CompleteAuth(ctx, params)
	})
	if err != nil {
		return deviceID, err
	}
	m.mirror.connection(deviceID, device.StateConnected)
	m.logger.Info("device authorised", "device_id", deviceID)
	return deviceID, nil
}

// Subscribe registers ch for updated events of one service. Subscribing
// twice is a no-op that returns the existing subscriber.
func (m *Manager) Subscribe(ch subscription.Channel, deviceID, serviceID string) (*subscription.Subscriber, error) {
	const topic = "subscribe"
	rec, err := m.lookup(topic, deviceID)
	if err != nil {
		return nil, err
	}
	if rec.base.ConnectionState() != device.StateConnected {
		return nil, device.ProtocolError(topic, device.ErrNotConnected, "")
	}
	if _, err := rec.base.State(serviceID); err != nil {
		return nil, err
	}

	sub, created := m.subs.GetOrCreate(ch, deviceID, serviceID)
	if !created {
		return sub, nil
	}
	if err := rec.base.Subscribe(sub, serviceID); err != nil {
		m.subs.Remove(sub)
		return nil, err
	}
	m.logger.Debug("subscribed", "channel", ch.ID(), "device_id", deviceID, "service_id", serviceID)
	return sub, nil
}

// Unsubscribe removes ch's subscription to a service. Removing a
// subscription that does not exist is not an error.
func (m *Manager) Unsubscribe(channelID, deviceID, serviceID string) error {
	const topic = "unsubscribe"
	rec, err := m.lookup(topic, deviceID)
	if err != nil {
		return err
	}
	if rec.base.ConnectionState() != device.StateConnected {
		return device.ProtocolError(topic, device.ErrNotConnected, "")
	}
	sub, ok := m.subs.Find(channelID, deviceID, serviceID)
	if !ok {
		return nil
	}
	m.subs.Remove(sub)
	return rec.base.Unsubscribe(sub, serviceID)
}

// CloseChannel drops every subscription held by a channel and returns how
// many were removed.
func (m *Manager) CloseChannel(channelID string) int {
	subs := m.subs.FindAll(channelID)
	for _, sub := range subs {
		m.subs.Remove(sub)
		key := sub.Key()
		m.mu.RLock()
		rec, ok := m.devices[key.DeviceID]
		m.mu.RUnlock()
		if ok {
			rec.base.Unsubscribe(sub, key.ServiceID) //nolint:errcheck // best effort on channel close
		}
	}
	return len(subs)
}

// DiscoverAll asks every module to look for devices.
func (m *Manager) DiscoverAll(ctx context.Context) {
	if mods := m.moduleSet(); mods != nil {
		mods.DiscoverAll(ctx)
	}
}

// StopDiscoverAll ends discovery on every module.
func (m *Manager) StopDiscoverAll(ctx context.Context) {
	if mods := m.moduleSet(); mods != nil {
		mods.StopDiscoverAll(ctx)
	}
}

// IsDiscovering reports whether the module owning deviceID is discovering.
func (m *Manager) IsDiscovering(deviceID string) bool {
	rec, err := m.lookup("discover", deviceID)
	if err != nil {
		return false
	}
	mods := m.moduleSet()
	return mods != nil && mods.IsDiscovering(rec.module)
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	st := Stats{Devices: len(m.devices)}
	for _, rec := range m.devices {
		if rec.base.ConnectionState() == device.StateConnected {
			st.Connected++
		}
	}
	m.mu.RUnlock()
	st.Subscribers = m.subs.Count()
	return st
}

// Close disconnects connected devices, closes the modules and stops the
// event mirror.
func (m *Manager) Close(ctx context.Context) {
	m.StopDiscoverAll(ctx)

	m.mu.RLock()
	recs := make([]*record, 0, len(m.devices))
	for _, rec := range m.devices {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	for _, rec := range recs {
		if rec.base.ConnectionState() == device.StateDisconnected {
			continue
		}
		if err := m.Disconnect(ctx, rec.base.ID()); err != nil {
			m.logger.Debug("disconnect on shutdown failed", "device_id", rec.base.ID(), "error", err)
		}
	}

	if mods := m.moduleSet(); mods != nil {
		mods.Close(ctx)
	}

	m.mu.Lock()
	remaining := make([]*record, 0, len(m.devices))
	for _, rec := range m.devices {
		remaining = append(remaining, rec)
	}
	m.devices = make(map[string]*record)
	m.byDriver = make(map[device.Driver]*record)
	m.mu.Unlock()
	for _, rec := range remaining {
		m.withdraw(rec)
	}

	m.mirror.close()
}
