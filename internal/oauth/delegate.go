package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dghubble/oauth1"
	"golang.org/x/oauth2"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// Supported protocol versions.
const (
	Version1 = "1.0"
	Version2 = "2.0"
)

// ProviderConfig describes the provider a Delegate talks to.
type ProviderConfig struct {
	Version      string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// AuthURL is the authorise endpoint for both versions.
	AuthURL string

	// TokenURL is the OAuth 2.0 token endpoint.
	TokenURL string

	// RequestTokenURL and AccessTokenURL are the OAuth 1.0 endpoints.
	RequestTokenURL string
	AccessTokenURL  string

	// CallbackURL is where the provider sends the browser back to.
	CallbackURL string

	// HTTPClient is used for token requests. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// pending is an authorisation started by Connect and not yet completed.
type pending struct {
	requestToken  string
	requestSecret string
	started       time.Time
}

// Delegate implements device.AuthDelegate for one provider.
type Delegate struct {
	version string
	signer  *StateSigner
	store   TokenStore
	client  *http.Client

	v1 *oauth1.Config
	v2 *oauth2.Config

	mu      sync.Mutex
	pending map[string]pending
}

var _ device.AuthDelegate = (*Delegate)(nil)

// NewDelegate creates a delegate for cfg. It fails with
// ErrUnsupportedVersion unless cfg.Version is "1.0" or "2.0".
func NewDelegate(cfg ProviderConfig, signer *StateSigner, store TokenStore) (*Delegate, error) {
	if signer == nil || store == nil {
		return nil, errors.New("oauth: signer and token store are required")
	}
	d := &Delegate{
		version: cfg.Version,
		signer:  signer,
		store:   store,
		client:  cfg.HTTPClient,
		pending: make(map[string]pending),
	}
	if d.client == nil {
		d.client = http.DefaultClient
	}

	switch cfg.Version {
	case Version1:
		d.v1 = &oauth1.Config{
			ConsumerKey:    cfg.ClientID,
			ConsumerSecret: cfg.ClientSecret,
			CallbackURL:    cfg.CallbackURL,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: cfg.RequestTokenURL,
				AuthorizeURL:    cfg.AuthURL,
				AccessTokenURL:  cfg.AccessTokenURL,
			},
			HTTPClient: d.client,
		}
	case Version2:
		d.v2 = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, cfg.Version)
	}
	return d, nil
}

// Version returns "1.0" or "2.0".
func (d *Delegate) Version() string { return d.version }

// Connect returns nil when a usable token is already stored for the
// device, and otherwise starts an authorisation and returns the redirect.
func (d *Delegate) Connect(ctx context.Context, deviceID string) (*device.Redirect, error) {
	tok, err := d.store.Load(ctx, deviceID)
	switch {
	case err == nil && tok.Version == d.version && tok.Usable(time.Now()):
		return nil, nil
	case err != nil && !errors.Is(err, ErrTokenNotFound):
		return nil, err
	}

	state, err := d.signer.Sign(deviceID)
	if err != nil {
		return nil, err
	}

	if d.version == Version1 {
		return d.connectV1(deviceID, state)
	}

	d.mu.Lock()
	d.pending[deviceID] = pending{started: time.Now()}
	d.mu.Unlock()
	return &device.Redirect{Href: d.v2.AuthCodeURL(state, oauth2.AccessTypeOffline), Method: http.MethodGet}, nil
}

func (d *Delegate) connectV1(deviceID, state string) (*device.Redirect, error) {
	cfg := *d.v1
	callback, err := url.Parse(cfg.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("parsing callback url: %w", err)
	}
	q := callback.Query()
	q.Set("state", state)
	callback.RawQuery = q.Encode()
	cfg.CallbackURL = callback.String()

	requestToken, requestSecret, err := cfg.RequestToken()
	if err != nil {
		return nil, fmt.Errorf("obtaining request token: %w", err)
	}
	authURL, err := cfg.AuthorizationURL(requestToken)
	if err != nil {
		return nil, fmt.Errorf("building authorise url: %w", err)
	}

	d.mu.Lock()
	d.pending[deviceID] = pending{requestToken: requestToken, requestSecret: requestSecret, started: time.Now()}
	d.mu.Unlock()
	return &device.Redirect{Href: authURL.String(), Method: http.MethodGet}, nil
}

// SetAccessToken completes a pending authorisation and stores the token.
func (d *Delegate) SetAccessToken(ctx context.Context, deviceID string, params device.CallbackParams) error {
	d.mu.Lock()
	p, ok := d.pending[deviceID]
	d.mu.Unlock()
	if !ok {
		return ErrNoPendingAuthorisation
	}

	var tok *Token
	var err error
	if d.version == Version1 {
		tok, err = d.exchangeV1(p, params)
	} else {
		tok, err = d.exchangeV2(ctx, params)
	}
	if err != nil {
		return err
	}

	tok.DeviceID = deviceID
	tok.Version = d.version
	if err := d.store.Save(ctx, tok); err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.pending, deviceID)
	d.mu.Unlock()
	return nil
}

func (d *Delegate) exchangeV1(p pending, params device.CallbackParams) (*Token, error) {
	if params.Verifier == "" {
		return nil, fmt.Errorf("%w: oauth_verifier", ErrMissingParameter)
	}
	if params.Token != "" && params.Token != p.requestToken {
		return nil, fmt.Errorf("%w: request token mismatch", ErrInvalidState)
	}
	accessToken, accessSecret, err := d.v1.AccessToken(p.requestToken, p.requestSecret, params.Verifier)
	if err != nil {
		return nil, fmt.Errorf("obtaining access token: %w", err)
	}
	return &Token{AccessToken: accessToken, TokenSecret: accessSecret}, nil
}

func (d *Delegate) exchangeV2(ctx context.Context, params device.CallbackParams) (*Token, error) {
	if params.Code == "" {
		return nil, fmt.Errorf("%w: code", ErrMissingParameter)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.client)
	t, err := d.v2.Exchange(ctx, params.Code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorisation code: %w", err)
	}
	return &Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}, nil
}

// Disconnect drops the stored token and any pending authorisation.
func (d *Delegate) Disconnect(ctx context.Context, deviceID string) error {
	d.mu.Lock()
	delete(d.pending, deviceID)
	d.mu.Unlock()
	return d.store.Delete(ctx, deviceID)
}

// HTTPClient returns a client that signs requests with the device's token,
// for drivers that call the provider's API.
func (d *Delegate) HTTPClient(ctx context.Context, deviceID string) (*http.Client, error) {
	tok, err := d.store.Load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d.version == Version1 {
		return d.v1.Client(ctx, oauth1.NewToken(tok.AccessToken, tok.TokenSecret)), nil
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.client)
	return d.v2.Client(ctx, &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}), nil
}
