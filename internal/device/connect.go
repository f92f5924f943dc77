package device

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// ConnectionState of a device.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
	StateRedirecting  ConnectionState = "redirecting"
)

// HashParams are the Argon2id parameters used to derive device secrets.
type HashParams struct {
	Time       uint32
	MemoryKiB  uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength uint32
}

// DefaultHashParams suit a small hub: one pass over 64 MiB.
var DefaultHashParams = HashParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4, KeyLength: 32, SaltLength: 16}

// ConnectHookFunc and DisconnectHookFunc are the strategies a
// ConnectManager delegates to.
type (
	ConnectHookFunc    func(ctx context.Context, user, pass string) (*Redirect, error)
	DisconnectHookFunc func(ctx context.Context) error
)

// ConnectManager runs the connection state machine of one device:
//
//	disconnected -> connected | redirecting   (ProcessConnect)
//	redirecting  -> redirecting               (ProcessConnect, new redirect)
//	redirecting  -> connected                 (CompleteRedirect)
//	any          -> disconnected              (ProcessDisconnect)
//
// For password devices the user and a derived secret are cached while the
// device is connected, and later connects are checked against them.
type ConnectManager struct {
	userAuth  bool
	delegated bool
	params    HashParams

	mu     sync.Mutex
	state  ConnectionState
	user   string
	secret string
}

// NewConnectManager creates a manager in the disconnected state. delegated
// marks a device whose authentication is handled by an AuthDelegate.
func NewConnectManager(userAuth, delegated bool, params HashParams) *ConnectManager {
	if params.Time == 0 {
		params = DefaultHashParams
	}
	return &ConnectManager{
		userAuth:  userAuth,
		delegated: delegated,
		params:    params,
		state:     StateDisconnected,
	}
}

// State returns the current connection state.
func (m *ConnectManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NeedsVerify reports whether Connect must go through VerifyConnect: a
// password device, not delegated, with a cached secret.
func (m *ConnectManager) NeedsVerify() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAuth && !m.delegated && m.secret != ""
}

// VerifyConnect checks user and pass against the cached credentials.
// It never changes the state.
func (m *ConnectManager) VerifyConnect(user, pass string) error {
	m.mu.Lock()
	storedUser, secret := m.user, m.secret
	m.mu.Unlock()

	if secret == "" {
		return ProtocolError("connect", ErrCannotVerify, "")
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(storedUser)) != 1 {
		return ProtocolError("connect", ErrUsernameMismatch, "")
	}
	ok, err := verifySecret(pass, secret)
	if err != nil {
		return ProtocolError("connect", ErrCannotVerify, err.Error())
	}
	if !ok {
		return ProtocolError("connect", ErrPasswordMismatch, "")
	}
	return nil
}

// ProcessConnect performs the connect step. With a hook, a returned
// redirect moves the device to redirecting and nothing is cached; otherwise
// the device becomes connected and, for password devices, the credentials
// are cached. Without a hook, password devices cannot connect. While an
// authorisation is pending only a fresh redirect is accepted.
func (m *ConnectManager) ProcessConnect(ctx context.Context, user, pass string, hook ConnectHookFunc) (*Redirect, error) {
	pending := m.State() == StateRedirecting
	if pending && hook == nil {
		return nil, ProtocolError("connect", ErrBadRedirect, "authorisation pending")
	}
	if hook == nil {
		if m.userAuth {
			return nil, ProtocolError("connect", ErrNoAuthStrategy, "")
		}
		m.setState(StateConnected)
		return nil, nil
	}

	redirect, err := hook(ctx, user, pass)
	if err != nil {
		return nil, AsError("connect", err)
	}

	if redirect != nil {
		if err := redirect.Validate(); err != nil {
			return nil, ProtocolError("connect", ErrBadRedirect, err.Error())
		}
		m.setState(StateRedirecting)
		return redirect, nil
	}
	if pending {
		return nil, ProtocolError("connect", ErrBadRedirect, "authorisation pending, expected a new redirect")
	}

	var secret string
	if m.userAuth && !m.delegated {
		secret, err = deriveSecret(pass, m.params)
		if err != nil {
			return nil, DriverError("connect", nil, err)
		}
	}

	m.mu.Lock()
	m.state = StateConnected
	if secret != "" {
		m.user, m.secret = user, secret
	}
	m.mu.Unlock()
	return nil, nil
}

// CompleteRedirect finishes a pending external authorisation.
func (m *ConnectManager) CompleteRedirect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRedirecting {
		return ProtocolError("connect", ErrNotConnected, "no authorisation pending")
	}
	m.state = StateConnected
	return nil
}

// ProcessDisconnect runs the disconnect hook, drops cached credentials and
// moves to disconnected. The state changes even if the hook fails; the
// hook error is still returned.
func (m *ConnectManager) ProcessDisconnect(ctx context.Context, hook DisconnectHookFunc) error {
	if m.State() == StateDisconnected {
		return ProtocolError("disconnect", ErrNotConnected, "")
	}

	var hookErr error
	if hook != nil {
		hookErr = hook(ctx)
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.user, m.secret = "", ""
	m.mu.Unlock()

	if hookErr != nil {
		return AsError("disconnect", hookErr)
	}
	return nil
}

// RequireConnected fails unless the device is connected.
func (m *ConnectManager) RequireConnected(topic string) error {
	if m.State() != StateConnected {
		return ProtocolError(topic, ErrNotConnected, "")
	}
	return nil
}

func (m *ConnectManager) setState(s ConnectionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// deriveSecret hashes pass with Argon2id into a PHC string:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func deriveSecret(pass string, p HashParams) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(pass), salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifySecret(pass, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("invalid secret format")
	}

	var p HashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return false, fmt.Errorf("parsing secret parameters: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}

	candidate := argon2.IDKey([]byte(pass), salt, p.Time, p.MemoryKiB, p.Threads, uint32(len(hash))) //nolint:gosec // hash length fits uint32
	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}
