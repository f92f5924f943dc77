// Package device defines what a device is to the hub.
//
// A module reports a device by handing over a Driver. The hub wraps it in a
// Base, which supplies the uniform device contract (Device): specification,
// connect and disconnect through a ConnectManager, action control and
// per-service event subscription.
//
// # Model
//
//   - Specification: device identity plus an ordered list of services.
//   - ServiceSpec: actions (arguments typed by a related state variable) and
//     a state table (data type, allowed range or list, default, sendEvents).
//   - Service: the runtime state of one service. SendEvent merges new
//     values and emits an Event whose Updated flag says whether anything
//     actually changed.
//
// # Connection
//
// ConnectManager moves a device between disconnected, connected and
// redirecting. Password devices cache the user and an Argon2id-derived
// secret while connected. Devices behind an external authorisation server
// use an AuthDelegate, which answers connect with a Redirect and completes
// through CompleteAuth.
//
// # Errors
//
// Every operation returns *Error values of two kinds: KindProtocol for
// caller mistakes and KindDriver for failures inside the device. Sentinels
// such as ErrDeviceNotFound stay reachable through errors.Is.
package device
