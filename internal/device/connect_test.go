package device

import (
	"context"
	"errors"
	"testing"
)

func TestProcessConnect_NoHook(t *testing.T) {
	ctx := context.Background()

	t.Run("plain device connects", func(t *testing.T) {
		m := NewConnectManager(false, false, testHash)
		redirect, err := m.ProcessConnect(ctx, "", "", nil)
		if err != nil || redirect != nil {
			t.Fatalf("ProcessConnect() = (%v, %v)", redirect, err)
		}
		if m.State() != StateConnected {
			t.Errorf("State() = %s, want connected", m.State())
		}
	})

	t.Run("userAuth device without strategy fails", func(t *testing.T) {
		m := NewConnectManager(true, false, testHash)
		_, err := m.ProcessConnect(ctx, "admin", "pw", nil)
		if !errors.Is(err, ErrNoAuthStrategy) {
			t.Fatalf("ProcessConnect() error = %v, want ErrNoAuthStrategy", err)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %s, want disconnected", m.State())
		}
	})
}

func TestProcessConnect_CachesCredentials(t *testing.T) {
	ctx := context.Background()
	m := NewConnectManager(true, false, testHash)
	hook := func(context.Context, string, string) (*Redirect, error) { return nil, nil }

	if _, err := m.ProcessConnect(ctx, "admin", "s3cret", hook); err != nil {
		t.Fatalf("ProcessConnect() error = %v", err)
	}
	if !m.NeedsVerify() {
		t.Fatal("credentials should be cached after a password connect")
	}

	tests := []struct {
		name string
		user string
		pass string
		want error
	}{
		{"match", "admin", "s3cret", nil},
		{"wrong user", "guest", "s3cret", ErrUsernameMismatch},
		{"wrong password", "admin", "nope", ErrPasswordMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.VerifyConnect(tt.user, tt.pass)
			if !errors.Is(err, tt.want) && !(tt.want == nil && err == nil) {
				t.Fatalf("VerifyConnect() = %v, want %v", err, tt.want)
			}
			if err != nil && !IsKind(err, KindProtocol) {
				t.Errorf("error kind = driver, want protocol")
			}
			if m.State() != StateConnected {
				t.Errorf("state changed to %s", m.State())
			}
		})
	}
}

func TestVerifyConnect_NoSecret(t *testing.T) {
	m := NewConnectManager(true, false, testHash)
	if err := m.VerifyConnect("admin", "pw"); !errors.Is(err, ErrCannotVerify) {
		t.Errorf("VerifyConnect() = %v, want ErrCannotVerify", err)
	}
}

func TestProcessConnect_Redirect(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		redirect  *Redirect
		wantErr   error
		wantState ConnectionState
	}{
		{"valid", &Redirect{Href: "https://auth.example.com/authorize?x=1", Method: "GET"}, nil, StateRedirecting},
		{"missing method", &Redirect{Href: "https://auth.example.com"}, ErrBadRedirect, StateDisconnected},
		{"missing href", &Redirect{Method: "GET"}, ErrBadRedirect, StateDisconnected},
		{"relative href", &Redirect{Href: "/authorize", Method: "GET"}, ErrBadRedirect, StateDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewConnectManager(true, true, testHash)
			got, err := m.ProcessConnect(ctx, "", "", func(context.Context, string, string) (*Redirect, error) {
				return tt.redirect, nil
			})
			if !errors.Is(err, tt.wantErr) && !(tt.wantErr == nil && err == nil) {
				t.Fatalf("ProcessConnect() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.redirect {
				t.Error("redirect not returned")
			}
			if m.State() != tt.wantState {
				t.Errorf("State() = %s, want %s", m.State(), tt.wantState)
			}
			if m.NeedsVerify() {
				t.Error("no secret may be derived for a delegated device")
			}
		})
	}
}

func TestCompleteRedirect(t *testing.T) {
	m := NewConnectManager(false, true, testHash)
	if err := m.CompleteRedirect(); err == nil {
		t.Fatal("CompleteRedirect() from disconnected should fail")
	}

	m.ProcessConnect(context.Background(), "", "", func(context.Context, string, string) (*Redirect, error) { //nolint:errcheck // state checked below
		return &Redirect{Href: "https://a.example/x", Method: "GET"}, nil
	})
	if err := m.CompleteRedirect(); err != nil {
		t.Fatalf("CompleteRedirect() error = %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %s, want connected", m.State())
	}
}

func TestProcessConnect_WhileRedirecting(t *testing.T) {
	ctx := context.Background()
	m := NewConnectManager(false, true, testHash)
	first := &Redirect{Href: "https://a.example/x", Method: "GET"}
	if _, err := m.ProcessConnect(ctx, "", "", func(context.Context, string, string) (*Redirect, error) { return first, nil }); err != nil {
		t.Fatal(err)
	}

	_, err := m.ProcessConnect(ctx, "", "", func(context.Context, string, string) (*Redirect, error) { return nil, nil })
	if !errors.Is(err, ErrBadRedirect) {
		t.Fatalf("connect without redirect while pending = %v, want ErrBadRedirect", err)
	}
	if _, err := m.ProcessConnect(ctx, "", "", nil); !errors.Is(err, ErrBadRedirect) {
		t.Fatalf("connect without hook while pending = %v, want ErrBadRedirect", err)
	}
	if m.State() != StateRedirecting {
		t.Fatalf("State() = %s, want redirecting", m.State())
	}

	second := &Redirect{Href: "https://a.example/y", Method: "GET"}
	got, err := m.ProcessConnect(ctx, "", "", func(context.Context, string, string) (*Redirect, error) { return second, nil })
	if err != nil || got != second {
		t.Fatalf("restarting authorisation = (%v, %v)", got, err)
	}
	if err := m.CompleteRedirect(); err != nil || m.State() != StateConnected {
		t.Errorf("CompleteRedirect() = %v, state %s", err, m.State())
	}
}

func TestProcessConnect_HookError(t *testing.T) {
	m := NewConnectManager(false, false, testHash)

	_, err := m.ProcessConnect(context.Background(), "", "", func(context.Context, string, string) (*Redirect, error) {
		return nil, errors.New("device refused")
	})
	if !IsKind(err, KindDriver) {
		t.Errorf("hook failure should be a driver error, got %v", err)
	}

	_, err = m.ProcessConnect(context.Background(), "x", "", func(context.Context, string, string) (*Redirect, error) {
		return nil, ErrUsernameMismatch
	})
	if !IsKind(err, KindProtocol) || !errors.Is(err, ErrUsernameMismatch) {
		t.Errorf("auth failure from hook should stay a protocol error, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", m.State())
	}
}

func TestProcessDisconnect(t *testing.T) {
	ctx := context.Background()
	m := NewConnectManager(true, false, testHash)

	if err := m.ProcessDisconnect(ctx, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("disconnect from disconnected = %v, want ErrNotConnected", err)
	}

	hook := func(context.Context, string, string) (*Redirect, error) { return nil, nil }
	if _, err := m.ProcessConnect(ctx, "admin", "pw", hook); err != nil {
		t.Fatal(err)
	}

	hookCalled := false
	if err := m.ProcessDisconnect(ctx, func(context.Context) error { hookCalled = true; return nil }); err != nil {
		t.Fatalf("ProcessDisconnect() error = %v", err)
	}
	if !hookCalled {
		t.Error("disconnect hook not called")
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", m.State())
	}
	if m.NeedsVerify() {
		t.Error("credentials should be cleared on disconnect")
	}
}

func TestRedirectFromAny(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		wantNil bool
		wantErr bool
	}{
		{"nil", nil, true, false},
		{"valid", map[string]any{"href": "https://x.example/a", "method": "GET"}, false, false},
		{"string", "https://x.example/a", true, true},
		{"missing method", map[string]any{"href": "https://x.example/a"}, true, true},
		{"non-string href", map[string]any{"href": 7, "method": "GET"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := RedirectFromAny(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBadRedirect) {
				t.Errorf("error %v does not wrap ErrBadRedirect", err)
			}
			if (r == nil) != tt.wantNil {
				t.Errorf("redirect = %v", r)
			}
		})
	}
}

func TestSecretRoundTrip(t *testing.T) {
	secret, err := deriveSecret("pw", testHash)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := verifySecret("pw", secret)
	if err != nil || !ok {
		t.Errorf("verifySecret(correct) = (%v, %v)", ok, err)
	}
	ok, _ = verifySecret("other", secret)
	if ok {
		t.Error("verifySecret(wrong) = true")
	}
	if _, err := verifySecret("pw", "$bcrypt$x"); err == nil {
		t.Error("verifySecret accepted a foreign format")
	}
}
