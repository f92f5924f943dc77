package subscription

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// Message is what a channel receives for one state change.
type Message struct {
	Timestamp time.Time      `json:"timestamp"`
	DeviceID  string         `json:"device_id"`
	ServiceID string         `json:"service_id"`
	EventData map[string]any `json:"event_data"`
}

// Channel is a transport connection that can receive messages, e.g. a
// websocket client.
type Channel interface {
	ID() string
	Send(msg Message) error
}

// Key identifies a Subscriber.
type Key struct {
	ChannelID string
	DeviceID  string
	ServiceID string
}

// Subscriber delivers the events of one device service to one channel.
type Subscriber struct {
	id      string
	key     Key
	channel Channel
	logger  Logger

	closed    atomic.Bool
	delivered atomic.Uint64
}

var _ device.EventSink = (*Subscriber)(nil)

func newSubscriber(ch Channel, deviceID, serviceID string, logger Logger) *Subscriber {
	return &Subscriber{
		id:      uuid.NewString(),
		key:     Key{ChannelID: ch.ID(), DeviceID: deviceID, ServiceID: serviceID},
		channel: ch,
		logger:  logger,
	}
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string { return s.id }

// Key returns the (channel, device, service) triple.
func (s *Subscriber) Key() Key { return s.key }

// Channel returns the channel the subscriber delivers to.
func (s *Subscriber) Channel() Channel { return s.channel }

// Delivered returns the number of messages sent so far.
func (s *Subscriber) Delivered() uint64 { return s.delivered.Load() }

// Closed reports whether the subscriber was removed from its registry.
func (s *Subscriber) Closed() bool { return s.closed.Load() }

// HandleEvent forwards updated events for the subscribed service.
func (s *Subscriber) HandleEvent(deviceID string, ev device.Event) {
	if !ev.Updated || s.closed.Load() {
		return
	}
	if deviceID != s.key.DeviceID || ev.ServiceID != s.key.ServiceID {
		return
	}

	msg := Message{
		Timestamp: ev.Timestamp,
		DeviceID:  deviceID,
		ServiceID: ev.ServiceID,
		EventData: ev.Payload,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := s.channel.Send(msg); err != nil {
		s.logger.Warn("event delivery failed",
			"channel", s.key.ChannelID,
			"device_id", deviceID,
			"service_id", ev.ServiceID,
			"error", err,
		)
		return
	}
	s.delivered.Add(1)
}
