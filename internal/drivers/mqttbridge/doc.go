// Package mqttbridge is a module whose devices live behind an MQTT bridge.
//
// A bridge is any process that speaks the topic scheme below on behalf of
// real hardware (a Zigbee or KNX gateway, a microcontroller, a script).
// For module instance "garage":
//
//	graylogic/bridge/garage/announce/{hw}    device specification (JSON)
//	graylogic/bridge/garage/offline/{hw}     device went away
//	graylogic/bridge/garage/state/{hw}       {"service_id": ..., "values": {...}}
//	graylogic/bridge/garage/command/{hw}     hub -> device: {"request_id", "service_id", "action", "args"}
//	graylogic/bridge/garage/response/{req}   device -> hub: {"request_id", "output", "state", "redirect", "error"}
//	graylogic/bridge/garage/discover         hub asks every device to announce again
//
// Specifications are validated against the device schema before the
// device is handed to the hub. Devices declaring userAuth receive the
// pseudo-actions "$connect" and "$disconnect"; a "$connect" response may
// carry a redirect for external authorisation.
package mqttbridge
