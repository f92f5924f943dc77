// Package api implements the HTTP REST API and WebSocket server of the hub.
//
// This package provides:
//   - REST endpoints for discovery, device connect/disconnect, actions,
//     specifications and state
//   - module management: list, install from a registry, uninstall, reload
//   - the OAuth callback that completes delegated device authorisation
//   - a WebSocket endpoint where clients subscribe to device service events
//   - middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Errors
//
// Every failure is returned as {status, code, topic, message}. Protocol
// errors (caller mistakes) map to 4xx, driver errors to 502, and devices
// that did not answer in time to 504.
//
// # WebSocket
//
// Each connection is a subscription channel. When it closes, every
// subscription it held is removed from its device.
package api
