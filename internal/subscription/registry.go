package subscription

import (
	"sort"
	"sync"
)

// Logger defines the logging interface used by the package.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Registry holds the subscribers of all channels.
type Registry struct {
	mu     sync.RWMutex
	subs   map[Key]*Subscriber
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:   make(map[Key]*Subscriber),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for delivery failures.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// GetOrCreate returns the subscriber for (ch, deviceID, serviceID),
// creating it when absent. created reports whether a new one was made.
func (r *Registry) GetOrCreate(ch Channel, deviceID, serviceID string) (sub *Subscriber, created bool) {
	key := Key{ChannelID: ch.ID(), DeviceID: deviceID, ServiceID: serviceID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[key]; ok {
		return sub, false
	}
	sub = newSubscriber(ch, deviceID, serviceID, r.logger)
	r.subs[key] = sub
	return sub, true
}

// Find returns the subscriber for a triple.
func (r *Registry) Find(channelID, deviceID, serviceID string) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[Key{ChannelID: channelID, DeviceID: deviceID, ServiceID: serviceID}]
	return sub, ok
}

// FindAll returns every subscriber of a channel, ordered by device and
// service.
func (r *Registry) FindAll(channelID string) []*Subscriber {
	return r.collect(func(k Key) bool { return k.ChannelID == channelID })
}

// FindDevice returns every subscriber of a device.
func (r *Registry) FindDevice(deviceID string) []*Subscriber {
	return r.collect(func(k Key) bool { return k.DeviceID == deviceID })
}

func (r *Registry) collect(match func(Key) bool) []*Subscriber {
	r.mu.RLock()
	var out []*Subscriber
	for k, sub := range r.subs {
		if match(k) {
			out = append(out, sub)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].key, out[j].key
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		if a.ServiceID != b.ServiceID {
			return a.ServiceID < b.ServiceID
		}
		return a.ChannelID < b.ChannelID
	})
	return out
}

// Remove unregisters sub. It reports whether sub was registered. A
// removed subscriber stops delivering even if a device still holds it.
func (r *Registry) Remove(sub *Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.subs[sub.key]
	if !ok || cur != sub {
		return false
	}
	delete(r.subs, sub.key)
	sub.closed.Store(true)
	return true
}

// RemoveDevice unregisters every subscriber of a device and returns them.
func (r *Registry) RemoveDevice(deviceID string) []*Subscriber {
	subs := r.FindDevice(deviceID)
	for _, sub := range subs {
		r.Remove(sub)
	}
	return subs
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
