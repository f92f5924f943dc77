package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/subscription"
)

const mirrorQueueSize = 256

// EventPublisher publishes state changes to a message bus. *mqtt.Client
// implements it.
type EventPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Telemetry records state and connection history. *influxdb.Client
// implements it.
type Telemetry interface {
	WriteStateVariable(deviceID, serviceID, variable string, value float64, at time.Time)
	WriteConnection(deviceID, state string, at time.Time)
}

// mirror copies updated events to the bus and to telemetry. Bus publishes
// wait for broker acknowledgement, so they run on a worker instead of the
// driver's goroutine.
type mirror struct {
	publisher EventPublisher
	telemetry Telemetry
	qos       byte
	logger    Logger

	mu     sync.RWMutex
	closed bool
	queue  chan subscription.Message
	wg     sync.WaitGroup
}

func newMirror(publisher EventPublisher, telemetry Telemetry, qos byte, logger Logger) *mirror {
	mr := &mirror{
		publisher: publisher,
		telemetry: telemetry,
		qos:       qos,
		logger:    logger,
	}
	if publisher != nil {
		mr.queue = make(chan subscription.Message, mirrorQueueSize)
		mr.wg.Add(1)
		go mr.run()
	}
	return mr
}

func (mr *mirror) observe(deviceID string, ev device.Event) {
	if !ev.Updated {
		return
	}

	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if mr.closed {
		return
	}

	if mr.telemetry != nil {
		for name, v := range ev.Payload {
			if f, ok := device.Numeric(v); ok {
				mr.telemetry.WriteStateVariable(deviceID, ev.ServiceID, name, f, ev.Timestamp)
			}
		}
	}

	if mr.queue == nil {
		return
	}
	msg := subscription.Message{
		Timestamp: ev.Timestamp,
		DeviceID:  deviceID,
		ServiceID: ev.ServiceID,
		EventData: ev.Payload,
	}
	select {
	case mr.queue <- msg:
	default:
		mr.logger.Warn("event mirror queue full, dropping event", "device_id", deviceID, "service_id", ev.ServiceID)
	}
}

func (mr *mirror) connection(deviceID string, state device.ConnectionState) {
	if mr.telemetry != nil {
		mr.telemetry.WriteConnection(deviceID, string(state), time.Now().UTC())
	}
}

func (mr *mirror) run() {
	defer mr.wg.Done()
	for msg := range mr.queue {
		payload, err := json.Marshal(msg)
		if err != nil {
			mr.logger.Warn("encoding mirrored event failed", "device_id", msg.DeviceID, "error", err)
			continue
		}
		topic := mqtt.Topics{}.HubEvent(msg.DeviceID, msg.ServiceID)
		if err := mr.publisher.Publish(topic, payload, mr.qos, false); err != nil {
			mr.logger.Debug("publishing event failed", "topic", topic, "error", err)
		}
	}
}

// close stops the worker. Events observed afterwards are discarded; drivers
// may still report state while or after their devices are withdrawn.
func (mr *mirror) close() {
	mr.mu.Lock()
	if !mr.closed {
		mr.closed = true
		if mr.queue != nil {
			close(mr.queue)
		}
	}
	mr.mu.Unlock()
	mr.wg.Wait()
}
