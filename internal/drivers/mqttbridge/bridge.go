package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/module"
)

// DriverName is the catalogue name of this module.
const DriverName = "mqttbridge"

// Defaults for Options.
const (
	DefaultQoS            = 1
	DefaultCommandTimeout = 5 * time.Second
)

var (
	// ErrNoBroker is returned when the hub runs without MQTT.
	ErrNoBroker = errors.New("mqttbridge: mqtt is not enabled")

	// ErrInvalidOptions is returned for unusable module options.
	ErrInvalidOptions = errors.New("mqttbridge: invalid options")

	// ErrClosed is returned for commands pending when the module closes.
	ErrClosed = errors.New("mqttbridge: module closed")
)

// Broker is the subset of the MQTT client the module uses. *mqtt.Client
// implements it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Options are the module options.
type Options struct {
	QoS            int           `yaml:"qos"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Register adds the bridge module to a catalogue.
func Register(c *module.Catalog) error {
	return c.Register(DriverName, New)
}

// Bridge is a loaded bridge module.
type Bridge struct {
	name    string
	broker  Broker
	signals module.Signals
	logger  module.Logger
	qos     byte
	timeout time.Duration
	topics  mqtt.Topics

	mu      sync.Mutex
	devices map[string]*Device
	pending map[string]chan Response
	closed  bool
}

var _ module.Closer = (*Bridge)(nil)

// New is the module.Factory for bridged devices.
func New(_ context.Context, env module.Env) (module.Module, error) {
	if env.MQTT == nil {
		return nil, ErrNoBroker
	}
	return newBridge(env, env.MQTT)
}

func newBridge(env module.Env, broker Broker) (*Bridge, error) {
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

	b := &Bridge{
		name:    env.Name,
		broker:  broker,
		signals: env.Signals,
		logger:  logger,
		qos:     byte(opts.QoS),
		timeout: opts.CommandTimeout,
		devices: make(map[string]*Device),
		pending: make(map[string]chan Response),
	}

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.AllBridgeResponses(b.name), b.handleResponse},
		{b.topics.AllBridgeAnnouncements(b.name), b.handleAnnounce},
		{b.topics.AllBridgeOffline(b.name), b.handleOffline},
		{b.topics.AllBridgeStates(b.name), b.handleState},
	}
	for i, s := range subs {
		if err := broker.Subscribe(s.topic, b.qos, s.handler); err != nil {
			for _, done := range subs[:i] {
				broker.Unsubscribe(done.topic) //nolint:errcheck // rolling back
			}
			return nil, fmt.Errorf("subscribing %s: %w", s.topic, err)
		}
	}
	return b, nil
}

func parseOptions(raw map[string]any) (Options, error) {
	opts := Options{QoS: DefaultQoS, CommandTimeout: DefaultCommandTimeout}
	if len(raw) > 0 {
		data, err := yaml.Marshal(raw)
		if err != nil {
			return opts, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}
	if opts.QoS < 0 || opts.QoS > 2 {
		return opts, fmt.Errorf("%w: qos must be 0, 1 or 2", ErrInvalidOptions)
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return opts, nil
}

// Discover asks every device behind the bridge to announce itself.
func (b *Bridge) Discover(context.Context) error {
	return b.broker.Publish(b.topics.BridgeDiscover(b.name), []byte("{}"), b.qos, false)
}

// StopDiscover is a no-op: announcements are accepted at any time.
func (b *Bridge) StopDiscover(context.Context) error { return nil }

func (b *Bridge) handleAnnounce(topic string, payload []byte) error {
	hwAddr := mqtt.LastSegment(topic)
	if hwAddr == "" {
		return fmt.Errorf("announce without hardware address")
	}
	spec, err := device.ParseSpecification(payload)
	if err != nil {
		b.logger.Warn("rejected device announcement", "hardware_address", hwAddr, "error", err)
		return err
	}

	d := &Device{bridge: b, hwAddr: hwAddr, spec: spec}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	old := b.devices[hwAddr]
	b.devices[hwAddr] = d
	b.mu.Unlock()

	if old != nil {
		b.signals.DeviceOffline(old)
	}
	b.logger.Info("bridged device announced", "hardware_address", hwAddr, "friendly_name", spec.FriendlyName)
	b.signals.DeviceOnline(d)
	return nil
}

func (b *Bridge) handleOffline(topic string, _ []byte) error {
	hwAddr := mqtt.LastSegment(topic)
	b.mu.Lock()
	d, ok := b.devices[hwAddr]
	delete(b.devices, hwAddr)
	b.mu.Unlock()
	if ok {
		b.logger.Info("bridged device offline", "hardware_address", hwAddr)
		b.signals.DeviceOffline(d)
	}
	return nil
}

func (b *Bridge) handleState(topic string, payload []byte) error {
	hwAddr := mqtt.LastSegment(topic)
	b.mu.Lock()
	d, ok := b.devices[hwAddr]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	var update StateUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("decoding state update: %w", err)
	}
	d.emitState(update.ServiceID, update.Values)
	return nil
}

func (b *Bridge) handleResponse(_ string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	b.mu.Lock()
	ch, ok := b.pending[resp.RequestID]
	delete(b.pending, resp.RequestID)
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("response for unknown request", "request_id", resp.RequestID)
		return nil
	}
	ch <- resp
	return nil
}

// request publishes a command to hwAddr and waits for its response.
func (b *Bridge) request(ctx context.Context, hwAddr string, cmd Command) (Response, error) {
	cmd.RequestID = uuid.NewString()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("encoding command: %w", err)
	}

	ch := make(chan Response, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Response{}, ErrClosed
	}
	b.pending[cmd.RequestID] = ch
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		delete(b.pending, cmd.RequestID)
		b.mu.Unlock()
	}

	if err := b.broker.Publish(b.topics.BridgeCommand(b.name, hwAddr), payload, b.qos, false); err != nil {
		cleanup()
		return Response{}, fmt.Errorf("publishing command: %w", err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, ErrClosed
		}
		if resp.Error != nil {
			return resp, resp.Error.err()
		}
		return resp, nil
	case <-timer.C:
		cleanup()
		return Response{}, device.DriverError("control", device.ErrNotResponding,
			fmt.Errorf("no response from %s within %v", hwAddr, b.timeout))
	case <-ctx.Done():
		cleanup()
		return Response{}, ctx.Err()
	}
}

// Devices returns the hardware addresses currently announced.
func (b *Bridge) Devices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.devices))
	for hw := range b.devices {
		out = append(out, hw)
	}
	return out
}

// Close unsubscribes, fails pending commands and takes every device
// offline.
func (b *Bridge) Close(context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	devices := b.devices
	b.devices = make(map[string]*Device)
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.mu.Unlock()

	var errs []error
	for _, topic := range []string{
		b.topics.AllBridgeAnnouncements(b.name),
		b.topics.AllBridgeOffline(b.name),
		b.topics.AllBridgeStates(b.name),
		b.topics.AllBridgeResponses(b.name),
	} {
		if err := b.broker.Unsubscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range devices {
		b.signals.DeviceOffline(d)
	}
	return errors.Join(errs...)
}
