// Package subscription fans device events out to transport channels.
//
// A Subscriber is identified by (channel, device, service). The Registry
// hands out at most one Subscriber per triple: subscribing twice returns
// the existing one. Subscribers implement device.EventSink and forward only
// events that changed state, as Message values, to their channel.
//
// When a channel closes, FindAll returns everything it subscribed to so the
// caller can detach each Subscriber from its device before removing it.
package subscription
