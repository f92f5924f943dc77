package virtual

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/hub"
	"github.com/nerrad567/gray-logic-hub/internal/identity"
	"github.com/nerrad567/gray-logic-hub/internal/module"
)

type recordingSignals struct {
	mu      sync.Mutex
	online  []device.Driver
	offline []device.Driver
}

func (s *recordingSignals) DeviceOnline(d device.Driver) {
	s.mu.Lock()
	s.online = append(s.online, d)
	s.mu.Unlock()
}

func (s *recordingSignals) DeviceOffline(d device.Driver) {
	s.mu.Lock()
	s.offline = append(s.offline, d)
	s.mu.Unlock()
}

func demoOptions() map[string]any {
	return map[string]any{
		"devices": []any{
			map[string]any{"id": "hall", "kind": "switch"},
			map[string]any{"id": "lounge", "kind": "dimmer", "name": "Lounge", "username": "admin", "password": "secret"},
		},
	}
}

func TestNew_Options(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
		wantErr bool
	}{
		{"no options", nil, false},
		{"valid", demoOptions(), false},
		{"missing id", map[string]any{"devices": []any{map[string]any{"kind": "switch"}}}, true},
		{"unknown kind", map[string]any{"devices": []any{map[string]any{"id": "x", "kind": "toaster"}}}, true},
		{"duplicate id", map[string]any{"devices": []any{
			map[string]any{"id": "x", "kind": "switch"},
			map[string]any{"id": "x", "kind": "dimmer"},
		}}, true},
		{"wrong shape", map[string]any{"devices": "all of them"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), module.Env{Name: "demo", Options: tt.options, Signals: &recordingSignals{}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("error %v does not wrap ErrInvalidOptions", err)
			}
		})
	}
}

func TestDiscoverAndRemove(t *testing.T) {
	ctx := context.Background()
	sig := &recordingSignals{}
	mod, err := New(ctx, module.Env{Name: "demo", Options: demoOptions(), Signals: sig})
	if err != nil {
		t.Fatal(err)
	}
	vm := mod.(*Module)

	if err := vm.Discover(ctx); err != nil {
		t.Fatal(err)
	}
	if err := vm.Discover(ctx); err != nil {
		t.Fatal(err)
	}
	if len(sig.online) != 2 {
		t.Fatalf("announced %d devices, want 2 (no repeats)", len(sig.online))
	}

	if !vm.Remove("hall") || vm.Remove("hall") {
		t.Error("Remove() should succeed exactly once")
	}
	if err := vm.Discover(ctx); err != nil {
		t.Fatal(err)
	}
	if len(sig.online) != 3 {
		t.Errorf("removed device not re-announced, online = %d", len(sig.online))
	}

	if err := vm.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if len(sig.offline) != 3 {
		t.Errorf("offline signals = %d, want 3", len(sig.offline))
	}
}

func TestDevice_Spec(t *testing.T) {
	ctx := context.Background()
	dimmer := newDevice("demo", DeviceConfig{ID: "lounge", Kind: KindDimmer, Password: "x"})
	spec, err := dimmer.Spec(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := spec.Validate(); err != nil {
		t.Fatalf("dimmer spec invalid: %v", err)
	}
	if !spec.UserAuth || len(spec.ServiceList) != 2 {
		t.Errorf("spec = %+v", spec)
	}
	if spec.HardwareAddress() != "demo:lounge" {
		t.Errorf("HardwareAddress() = %q", spec.HardwareAddress())
	}

	sw := newDevice("demo", DeviceConfig{ID: "hall", Kind: KindSwitch})
	spec, err = sw.Spec(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if spec.UserAuth || len(spec.ServiceList) != 1 || spec.FriendlyName != "hall" {
		t.Errorf("switch spec = %+v", spec)
	}
}

func TestDevice_Connect(t *testing.T) {
	d := newDevice("demo", DeviceConfig{ID: "x", Kind: KindSwitch, Username: "admin", Password: "secret"})
	tests := []struct {
		user, pass string
		want       error
	}{
		{"admin", "secret", nil},
		{"guest", "secret", device.ErrUsernameMismatch},
		{"admin", "nope", device.ErrPasswordMismatch},
	}
	for _, tt := range tests {
		if _, err := d.Connect(context.Background(), tt.user, tt.pass); !errors.Is(err, tt.want) && !(err == nil && tt.want == nil) {
			t.Errorf("Connect(%s, %s) = %v, want %v", tt.user, tt.pass, err, tt.want)
		}
	}
}

// TestThroughHub drives the module through a module.Manager and a hub.
func TestThroughHub(t *testing.T) {
	ctx := context.Background()
	h, err := hub.New(hub.Options{
		Identity:      identity.NewMemoryStore(),
		DeviceTimeout: time.Second,
		Hash:          device.HashParams{Time: 1, MemoryKiB: 64, Threads: 1, KeyLength: 16, SaltLength: 8},
	})
	if err != nil {
		t.Fatal(err)
	}
	catalog := module.NewCatalog()
	if err := Register(catalog); err != nil {
		t.Fatal(err)
	}
	mods := module.NewManager(catalog, h, module.Options{})
	h.SetModules(mods)
	defer h.Close(ctx)

	if err := mods.Load(ctx, "demo", DriverName, "1.0.0", demoOptions()); err != nil {
		t.Fatal(err)
	}
	h.DiscoverAll(ctx)
	h.StopDiscoverAll(ctx)

	devices := h.ListDevices()
	if len(devices) != 2 {
		t.Fatalf("ListDevices() = %+v", devices)
	}
	var hall, lounge string
	for _, d := range devices {
		switch d.HardwareAddress {
		case "demo:hall":
			hall = d.ID
		case "demo:lounge":
			lounge = d.ID
		}
	}

	if _, _, err := h.Connect(ctx, lounge, "admin", "wrong"); !errors.Is(err, device.ErrPasswordMismatch) {
		t.Fatalf("Connect(wrong password) = %v", err)
	}
	if _, _, err := h.Connect(ctx, lounge, "admin", "secret"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.InvokeAction(ctx, lounge, DimmingServiceID, "SetLoadLevelTarget", map[string]any{"newLoadlevelTarget": 150}); !errors.Is(err, device.ErrInvalidArgument) {
		t.Errorf("out of range level = %v, want ErrInvalidArgument", err)
	}
	if _, err := h.InvokeAction(ctx, lounge, DimmingServiceID, "SetLoadLevelTarget", map[string]any{"newLoadlevelTarget": 60}); err != nil {
		t.Fatal(err)
	}
	out, err := h.InvokeAction(ctx, lounge, DimmingServiceID, "GetLoadLevelStatus", nil)
	if err != nil || out["retLoadlevelStatus"] != 60 {
		t.Errorf("GetLoadLevelStatus = (%v, %v)", out, err)
	}

	if _, _, err := h.Connect(ctx, hall, "", ""); err != nil {
		t.Fatal(err)
	}
	out, err = h.InvokeAction(ctx, hall, SwitchServiceID, "Toggle", nil)
	if err != nil || out["Status"] != true {
		t.Errorf("Toggle = (%v, %v)", out, err)
	}

	vm := demoModule(t, mods)
	d, _ := vm.Device("hall")
	if !d.Set(SwitchServiceID, map[string]any{"Status": false}) {
		t.Fatal("Set() before BindEvents")
	}
	st, _ := h.GetState(hall, SwitchServiceID)
	if st["Status"] != false {
		t.Errorf("Status after local change = %v", st["Status"])
	}

	if err := mods.Unload(ctx, "demo"); err != nil {
		t.Fatal(err)
	}
	if ids := h.ListDeviceIDs(); len(ids) != 0 {
		t.Errorf("devices after unload = %v", ids)
	}
}

func demoModule(t *testing.T, mods *module.Manager) *Module {
	t.Helper()
	vm, ok := mods.Instance("demo")
	if !ok {
		t.Fatal("module demo not loaded")
	}
	return vm.(*Module)
}
