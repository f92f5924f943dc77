package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementState      = "device_state"
	measurementConnection = "device_connection"
)

// WriteStateVariable records one state variable value.
func (c *Client) WriteStateVariable(deviceID, serviceID, variable string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statePoint(deviceID, serviceID, variable, value, at))
}

// WriteConnection records a connection state transition of a device.
func (c *Client) WriteConnection(deviceID, state string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionPoint(deviceID, state, at))
}

func statePoint(deviceID, serviceID, variable string, value float64, at time.Time) *write.Point {
	return write.NewPoint(measurementState,
		map[string]string{
			"device_id":  deviceID,
			"service_id": serviceID,
			"variable":   variable,
		},
		map[string]any{"value": value},
		at,
	)
}

func connectionPoint(deviceID, state string, at time.Time) *write.Point {
	connected := 0
	if state == "connected" {
		connected = 1
	}
	return write.NewPoint(measurementConnection,
		map[string]string{"device_id": deviceID},
		map[string]any{"connected": connected, "state": state},
		at,
	)
}
