// Package mqtt connects the hub to an MQTT broker.
//
// The broker carries two kinds of traffic:
//   - the event mirror: every state change the hub observes is republished
//     under graylogic/hub/event/{device_id}/{service_id}
//   - bridge modules: devices that live behind an external process announce
//     themselves and exchange commands under graylogic/bridge/{module}/...
//
// The client reconnects on its own and restores its subscriptions after a
// reconnect. A retained status message plus a Last Will on
// graylogic/hub/{hub_id}/status lets other processes see whether the hub is up.
//
// TLS should be enabled whenever the broker is not on localhost.
package mqtt
