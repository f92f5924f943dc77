// Package hub is the device registry.
//
// Manager reacts to module signals: on DeviceOnline it reads the driver's
// specification, resolves a hardware address, looks up or assigns the
// stable id in the identity store, wraps the driver in a device.Base and
// publishes it under that id. DeviceOffline and PurgeModule remove devices
// again, together with their event subscribers.
//
// Every operation that reaches a driver (connect, disconnect, control and
// the OAuth callback) runs inside a session.Session with a device timer, so
// callers always get an answer within the configured device timeout.
//
// Changed state is mirrored to MQTT under graylogic/hub/event/{device}/{service}
// and numeric values are written to InfluxDB when those are configured.
package hub
