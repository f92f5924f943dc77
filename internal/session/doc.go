// Package session bounds one inbound device operation.
//
// A Session owns exactly one completion sink. Whatever finishes first, the
// driver or a device timer, delivers the result; every later completion is
// discarded. Device timers fire once after a fixed deadline (10 seconds by
// default) and complete the session with device.ErrNotResponding, so a
// caller always gets exactly one answer even if the driver never returns.
//
// Expiry also cancels the session's context. Drivers that honour their
// context stop early; drivers that do not may still finish later, and the
// result is dropped and logged.
//
// Most callers use Run:
//
//	out, err := session.Run(ctx, dev, "control", opts, func(ctx context.Context) (map[string]any, error) {
//	    return dev.Control(ctx, serviceID, action, args)
//	})
package session
