package device

import (
	"encoding/json"
	"maps"
	"reflect"
	"sync"
	"time"
)

// Event is emitted by a service every time new values are reported.
// Updated is false when nothing actually changed, so subscribers can tell
// a heartbeat from a real change.
type Event struct {
	ServiceID string
	Updated   bool
	Payload   map[string]any
	Timestamp time.Time
}

// EventSink receives the events of the services it subscribed to.
type EventSink interface {
	HandleEvent(deviceID string, ev Event)
}

// Service is the runtime counterpart of a ServiceSpec: current state plus
// the sinks subscribed to it. Safe for concurrent use.
type Service struct {
	spec ServiceSpec

	mu       sync.RWMutex
	state    map[string]any
	sinks    []EventSink
	deviceID string
	observe  func(deviceID string, ev Event)
}

// NewService initialises state from the declared defaults. Variables
// without a default start as the empty string.
func NewService(spec ServiceSpec) *Service {
	state := make(map[string]any, len(spec.ServiceStateTable))
	for name, sv := range spec.ServiceStateTable {
		state[name] = sv.ZeroValue()
	}
	return &Service{spec: spec, state: state}
}

// ID returns the service id.
func (s *Service) ID() string { return s.spec.ServiceID }

// Spec returns the service specification.
func (s *Service) Spec() ServiceSpec { return s.spec }

// State returns a copy of the current state table.
func (s *Service) State() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.state)
}

// Value returns one state variable.
func (s *Service) Value(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[name]
	return v, ok
}

// SendEvent merges newValues into the state and emits an Event to every
// subscribed sink. Only variables whose value differs from the current one
// mark the event as updated; the event is emitted either way.
func (s *Service) SendEvent(newValues map[string]any) Event {
	s.mu.Lock()
	updated := false
	for name, v := range newValues {
		if cur, ok := s.state[name]; ok && valuesEqual(cur, v) {
			continue
		}
		s.state[name] = v
		updated = true
	}
	sinks := append([]EventSink(nil), s.sinks...)
	deviceID := s.deviceID
	observe := s.observe
	s.mu.Unlock()

	ev := Event{
		ServiceID: s.spec.ServiceID,
		Updated:   updated,
		Payload:   maps.Clone(newValues),
		Timestamp: time.Now().UTC(),
	}

	if observe != nil {
		observe(deviceID, ev)
	}
	for _, sink := range sinks {
		sink.HandleEvent(deviceID, ev)
	}
	return ev
}

// Subscribe adds sink. Adding the same sink twice has no effect.
func (s *Service) Subscribe(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sinks {
		if existing == sink {
			return
		}
	}
	s.sinks = append(s.sinks, sink)
}

// Unsubscribe removes sink. It reports whether sink was subscribed.
func (s *Service) Unsubscribe(sink EventSink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sinks {
		if existing == sink {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			return true
		}
	}
	return false
}

// SinkCount returns the number of subscribed sinks.
func (s *Service) SinkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sinks)
}

func (s *Service) bind(deviceID string, observe func(string, Event)) {
	s.mu.Lock()
	s.deviceID = deviceID
	s.observe = observe
	s.mu.Unlock()
}

// valuesEqual compares state values. Numbers compare by value regardless of
// their Go type, so 5 and 5.0 are equal.
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(normalise(a), normalise(b))
}

// normalise round-trips composite values through JSON so that maps and
// slices built in Go compare equal to the same values decoded from JSON.
func normalise(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return v
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return v
		}
		return out
	default:
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Numeric returns v as a float64 for telemetry. Booleans map to 0 and 1.
func Numeric(v any) (float64, bool) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	return toFloat(v)
}
