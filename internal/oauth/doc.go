// Package oauth lets devices authorise through an external OAuth provider.
//
// A Delegate replaces a device's connect and disconnect hooks. Connect
// returns a redirect to the provider's authorise page; the provider sends
// the browser back to the hub's callback with a state parameter, and
// SetAccessToken finishes the exchange. Both OAuth 1.0 (request token,
// authorise, access token) and OAuth 2.0 (authorisation code) are
// supported, chosen per module by the configured version. Any other version
// is a configuration error reported by NewRegistry.
//
// The state parameter is a short-lived HS256 JWT whose subject is the
// device id, so the callback can find the device without server-side
// session state and forged callbacks are rejected.
//
// Access tokens are persisted in the oauth_tokens table and survive
// restarts; a device with a stored token connects without a redirect.
package oauth
