package module

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

type fakeModule struct {
	mu       sync.Mutex
	env      Env
	discover int
	stop     int
	closed   bool
	failDisc bool
}

func (f *fakeModule) Discover(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDisc {
		return errors.New("radio busy")
	}
	f.discover++
	return nil
}

func (f *fakeModule) StopDiscover(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stop++
	return nil
}

func (f *fakeModule) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeModule) counts() (discover, stop int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discover, f.stop
}

type fakeDriver struct{ name string }

func (*fakeDriver) Spec(context.Context) (*device.Specification, error) { return nil, nil }
func (*fakeDriver) HardwareAddress(context.Context) (string, error)     { return "", nil }
func (*fakeDriver) Actions(string) map[string]device.ActionHandler      { return nil }

type fakeListener struct {
	mu      sync.Mutex
	online  []string
	offline []string
	purged  []string
}

func (l *fakeListener) DeviceOnline(module string, _ device.Driver) {
	l.mu.Lock()
	l.online = append(l.online, module)
	l.mu.Unlock()
}

func (l *fakeListener) DeviceOffline(module string, _ device.Driver) {
	l.mu.Lock()
	l.offline = append(l.offline, module)
	l.mu.Unlock()
}

func (l *fakeListener) PurgeModule(module string) {
	l.mu.Lock()
	l.purged = append(l.purged, module)
	l.mu.Unlock()
}

func (l *fakeListener) snapshot() (online, offline, purged []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.online...), append([]string(nil), l.offline...), append([]string(nil), l.purged...)
}

// testCatalog registers "fake", "broken", "panicky", "eager" and
// "eager-broken" drivers. The eager drivers announce a device from inside
// the factory. Every instance "fake" creates is appended to *created.
func testCatalog(created *[]*fakeModule) *Catalog {
	c := NewCatalog()
	var mu sync.Mutex
	c.Register("fake", func(_ context.Context, env Env) (Module, error) {
		m := &fakeModule{env: env}
		mu.Lock()
		*created = append(*created, m)
		mu.Unlock()
		return m, nil
	})
	c.Register("broken", func(context.Context, Env) (Module, error) {
		return nil, errors.New("missing hardware")
	})
	c.Register("panicky", func(context.Context, Env) (Module, error) {
		panic("constructor bug")
	})
	c.Register("eager", func(_ context.Context, env Env) (Module, error) {
		env.Signals.DeviceOnline(&fakeDriver{name: "retained"})
		return &fakeModule{env: env}, nil
	})
	c.Register("eager-broken", func(_ context.Context, env Env) (Module, error) {
		env.Signals.DeviceOnline(&fakeDriver{name: "retained"})
		return nil, errors.New("subscription lost")
	})
	return c
}
