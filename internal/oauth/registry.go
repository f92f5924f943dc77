package oauth

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// Registry holds the delegates configured per module.
type Registry struct {
	signer    *StateSigner
	delegates map[string]*Delegate
}

// NewRegistry builds a delegate for every configured provider. Any
// provider with an unsupported version fails the whole registry.
func NewRegistry(cfg config.OAuthConfig, store TokenStore) (*Registry, error) {
	ttl := time.Duration(cfg.StateTTL) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	r := &Registry{
		signer:    NewStateSigner(cfg.StateSecret, ttl),
		delegates: make(map[string]*Delegate, len(cfg.Providers)),
	}

	var errs []error
	for module, p := range cfg.Providers {
		d, err := NewDelegate(ProviderConfig{
			Version:         p.Version,
			ClientID:        p.ClientID,
			ClientSecret:    p.ClientSecret,
			Scopes:          p.Scopes,
			AuthURL:         p.AuthURL,
			TokenURL:        p.TokenURL,
			RequestTokenURL: p.RequestTokenURL,
			AccessTokenURL:  p.AccessTokenURL,
			CallbackURL:     cfg.CallbackURL,
		}, r.signer, store)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", module, err))
			continue
		}
		r.delegates[module] = d
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// Delegate returns the delegate configured for a module.
func (r *Registry) Delegate(module string) (device.AuthDelegate, bool) {
	if r == nil {
		return nil, false
	}
	d, ok := r.delegates[module]
	if !ok {
		return nil, false
	}
	return d, true
}

// Modules returns the module names that have a provider, sorted.
func (r *Registry) Modules() []string {
	names := make([]string, 0, len(r.delegates))
	for name := range r.delegates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VerifyState returns the device id encoded in a callback's state.
func (r *Registry) VerifyState(state string) (string, error) {
	return r.signer.Verify(state)
}
