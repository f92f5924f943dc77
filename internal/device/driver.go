package device

import (
	"context"
	"fmt"
	"net/url"
)

// ActionHandler implements one action. It reports state changes through
// svc.SendEvent and returns the action's output arguments.
type ActionHandler func(ctx context.Context, svc *Service, args map[string]any) (map[string]any, error)

// Driver is what a module hands to the hub when a device comes online. The
// hub wraps it in a Base, which supplies the rest of the device contract.
//
// Drivers must be pointer types: the hub matches offline signals to
// devices by driver identity.
type Driver interface {
	// Spec returns the device specification.
	Spec(ctx context.Context) (*Specification, error)

	// HardwareAddress returns an address that survives restarts. It is only
	// asked for when the specification carries no UDN.
	HardwareAddress(ctx context.Context) (string, error)

	// Actions returns the handlers bound for a service, keyed by action name.
	Actions(serviceID string) map[string]ActionHandler
}

// ConnectHook is implemented by drivers with their own connect step. A
// non-nil Redirect asks the caller to finish authentication elsewhere.
type ConnectHook interface {
	Connect(ctx context.Context, user, pass string) (*Redirect, error)
}

// DisconnectHook is implemented by drivers with their own disconnect step.
type DisconnectHook interface {
	Disconnect(ctx context.Context) error
}

// EventSource is implemented by drivers that learn about state changes on
// their own, e.g. from a broker. BindEvents is called once, after the
// device has been assigned its id and before it is published; emit may be
// called from any goroutine afterwards.
type EventSource interface {
	BindEvents(emit func(serviceID string, values map[string]any))
}

// AuthDelegate replaces a driver's connect and disconnect hooks with an
// external authorisation flow such as OAuth.
type AuthDelegate interface {
	Connect(ctx context.Context, deviceID string) (*Redirect, error)
	Disconnect(ctx context.Context, deviceID string) error
	SetAccessToken(ctx context.Context, deviceID string, params CallbackParams) error
}

// CallbackParams are the values an authorisation server sends back.
type CallbackParams struct {
	// Code is the OAuth 2.0 authorisation code.
	Code string

	// Token and Verifier complete an OAuth 1.0 flow.
	Token    string
	Verifier string
}

// Redirect tells the caller to continue authentication at an external URL.
type Redirect struct {
	Href   string `json:"href"`
	Method string `json:"method"`
}

// Validate rejects redirects without an absolute href or a method.
func (r *Redirect) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil", ErrBadRedirect)
	}
	if r.Href == "" || r.Method == "" {
		return fmt.Errorf("%w: href and method are required", ErrBadRedirect)
	}
	u, err := url.Parse(r.Href)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("%w: href %q is not an absolute URL", ErrBadRedirect, r.Href)
	}
	return nil
}

// RedirectFromAny converts a decoded JSON value into a Redirect. A nil
// value means no redirect; anything other than an object carrying string
// href and method fields is malformed.
func RedirectFromAny(v any) (*Redirect, error) {
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: want object, got %T", ErrBadRedirect, v)
	}
	href, _ := obj["href"].(string)
	method, _ := obj["method"].(string)
	r := &Redirect{Href: href, Method: method}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
