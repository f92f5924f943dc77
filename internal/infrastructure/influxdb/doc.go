// Package influxdb records device telemetry for the hub.
//
// Every state variable change with a numeric or boolean value is written as
// a point in the device_state measurement, tagged with the device and
// service, and connection transitions go to device_connection. Writes are
// non-blocking and batched by the client library; failures surface through
// SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	client.WriteStateVariable("3f2a...", "urn:dimmer", "level", 42, time.Now())
package influxdb
