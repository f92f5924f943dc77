package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/subscription"
)

func TestNew_RequiresIdentity(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrNoIdentityStore) {
		t.Errorf("New() error = %v, want ErrNoIdentityStore", err)
	}
}

func TestDeviceOnline_StableIDs(t *testing.T) {
	th := newTestHub(t, Options{})

	first := &fakeSwitch{udn: "sw-1"}
	id := th.online(t, "lab", first, "sw-1")
	if got := th.ListDeviceIDs(); len(got) != 1 || got[0] != id {
		t.Fatalf("ListDeviceIDs() = %v", got)
	}

	th.DeviceOffline("lab", first)
	if len(th.ListDeviceIDs()) != 0 {
		t.Fatal("device still listed after DeviceOffline")
	}

	second := &fakeSwitch{udn: "sw-1"}
	if again := th.online(t, "lab", second, "sw-1"); again != id {
		t.Errorf("id after reconnect = %s, want %s", again, id)
	}

	other := th.online(t, "lab", &fakeSwitch{udn: "sw-2"}, "sw-2")
	if other == id {
		t.Error("different hardware addresses share an id")
	}
}

func TestDeviceOnline_DropsBadDrivers(t *testing.T) {
	th := newTestHub(t, Options{})

	tests := []struct {
		name   string
		driver device.Driver
	}{
		{"nil driver", nil},
		{"specification error", &fakeSwitch{udn: "x", specErr: errors.New("unreachable")}},
		{"no hardware address", &fakeSwitch{udn: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th.DeviceOnline("lab", tt.driver)
			if ids := th.ListDeviceIDs(); len(ids) != 0 {
				t.Errorf("ListDeviceIDs() = %v, want none", ids)
			}
		})
	}
}

func TestDeviceOnline_ReplacesSameAddress(t *testing.T) {
	th := newTestHub(t, Options{})
	ctx := context.Background()

	old := &fakeSwitch{udn: "sw-1"}
	id := th.online(t, "lab", old, "sw-1")
	if _, _, err := th.Connect(ctx, id, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := th.Subscribe(&fakeChannel{id: "ws-1"}, id, switchID); err != nil {
		t.Fatal(err)
	}

	replacement := &fakeSwitch{udn: "sw-1"}
	th.online(t, "lab", replacement, "sw-1")
	if th.Subscriptions().Count() != 0 {
		t.Error("subscribers of the replaced instance survived")
	}

	// A late offline signal for the old instance must not remove the new one.
	th.DeviceOffline("lab", old)
	if ids := th.ListDeviceIDs(); len(ids) != 1 {
		t.Fatalf("ListDeviceIDs() = %v, want the replacement", ids)
	}
	info, err := th.Device(id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Connection != device.StateDisconnected {
		t.Errorf("replacement connection = %s, want disconnected", info.Connection)
	}

	// Offline from the wrong module is ignored.
	th.DeviceOffline("other", replacement)
	if len(th.ListDeviceIDs()) != 1 {
		t.Error("offline signal from a foreign module removed the device")
	}
}

func TestUnknownDevice(t *testing.T) {
	th := newTestHub(t, Options{})
	ctx := context.Background()

	checks := map[string]error{}
	_, _, checks["connect"] = th.Connect(ctx, "nope", "", "")
	checks["disconnect"] = th.Disconnect(ctx, "nope")
	_, checks["control"] = th.InvokeAction(ctx, "nope", switchID, "getStatus", nil)
	_, checks["spec"] = th.GetSpec("nope")
	_, checks["state"] = th.GetState("nope", switchID)
	_, checks["subscribe"] = th.Subscribe(&fakeChannel{id: "c"}, "nope", switchID)
	checks["unsubscribe"] = th.Unsubscribe("c", "nope", switchID)

	for op, err := range checks {
		if !errors.Is(err, device.ErrDeviceNotFound) || !device.IsKind(err, device.KindProtocol) {
			t.Errorf("%s: error = %v, want protocol ErrDeviceNotFound", op, err)
		}
	}
}

func TestConnectAndControl(t *testing.T) {
	th := newTestHub(t, Options{QoS: 1})
	ctx := context.Background()
	id := th.online(t, "lab", &fakeSwitch{udn: "sw-1"}, "sw-1")

	if _, err := th.InvokeAction(ctx, id, switchID, "getStatus", nil); !errors.Is(err, device.ErrNotConnected) {
		t.Fatalf("InvokeAction() before connect = %v, want ErrNotConnected", err)
	}

	state, redirect, err := th.Connect(ctx, id, "", "")
	if err != nil || redirect != nil || state != device.StateConnected {
		t.Fatalf("Connect() = (%s, %v, %v)", state, redirect, err)
	}

	if _, err := th.InvokeAction(ctx, id, switchID, "setTarget", map[string]any{"newTarget": true}); err != nil {
		t.Fatalf("setTarget error = %v", err)
	}
	out, err := th.InvokeAction(ctx, id, switchID, "getStatus", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out["status"] != true {
		t.Errorf("getStatus = %v, want true", out["status"])
	}

	st, err := th.GetState(id, switchID)
	if err != nil || st["status"] != true {
		t.Errorf("GetState() = (%v, %v)", st, err)
	}
	if _, err := th.GetState(id, "urn:none"); !errors.Is(err, device.ErrServiceNotFound) {
		t.Errorf("GetState(unknown service) = %v", err)
	}

	th.telemetry.mu.Lock()
	power := th.telemetry.values["power"]
	th.telemetry.mu.Unlock()
	if power != 42.5 {
		t.Errorf("telemetry power = %v, want 42.5", power)
	}

	wantTopic := mqtt.Topics{}.HubEvent(id, switchID)
	waitFor(t, "mirrored event", func() bool { return len(th.publisher.messages()) > 0 })
	msg := th.publisher.messages()[0]
	if msg.topic != wantTopic {
		t.Errorf("topic = %s, want %s", msg.topic, wantTopic)
	}
	var body subscription.Message
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatal(err)
	}
	if body.DeviceID != id || body.EventData["status"] != true {
		t.Errorf("mirrored body = %+v", body)
	}

	if err := th.Disconnect(ctx, id); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if st := th.Stats(); st.Devices != 1 || st.Connected != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestConnect_UserAuth(t *testing.T) {
	th := newTestHub(t, Options{})
	ctx := context.Background()
	id := th.online(t, "lab", authSwitch{&fakeSwitch{udn: "sw-1", userAuth: true}}, "sw-1")

	_, _, err := th.Connect(ctx, id, "admin", "wrong")
	if !errors.Is(err, device.ErrPasswordMismatch) || !device.IsKind(err, device.KindProtocol) {
		t.Fatalf("Connect(wrong password) = %v", err)
	}
	if state, _, err := th.Connect(ctx, id, "admin", "pw"); err != nil || state != device.StateConnected {
		t.Fatalf("Connect() = (%s, %v)", state, err)
	}

	// Once connected, later connects are checked against the cached secret.
	if _, _, err := th.Connect(ctx, id, "admin", "wrong"); !errors.Is(err, device.ErrPasswordMismatch) {
		t.Errorf("Connect() after connect with wrong password = %v", err)
	}
	if _, _, err := th.Connect(ctx, id, "guest", "pw"); !errors.Is(err, device.ErrUsernameMismatch) {
		t.Errorf("Connect() with other user = %v", err)
	}
}

func TestConnect_RefusedWhileDiscovering(t *testing.T) {
	th := newTestHub(t, Options{})
	id := th.online(t, "lab", &fakeSwitch{udn: "sw-1"}, "sw-1")

	th.modules.mu.Lock()
	th.modules.discovering["lab"] = true
	th.modules.mu.Unlock()

	if !th.IsDiscovering(id) {
		t.Error("IsDiscovering() = false")
	}
	if _, _, err := th.Connect(context.Background(), id, "", ""); !errors.Is(err, device.ErrDiscovering) {
		t.Errorf("Connect() = %v, want ErrDiscovering", err)
	}
}

func TestInvokeAction_Timeout(t *testing.T) {
	th := newTestHub(t, Options{DeviceTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	sw := &fakeSwitch{udn: "sw-1"}
	id := th.online(t, "lab", sw, "sw-1")
	if _, _, err := th.Connect(ctx, id, "", ""); err != nil {
		t.Fatal(err)
	}

	sw.block = make(chan struct{})
	start := time.Now()
	_, err := th.InvokeAction(ctx, id, switchID, "setTarget", map[string]any{"newTarget": true})
	if !errors.Is(err, device.ErrNotResponding) || !device.IsKind(err, device.KindDriver) {
		t.Fatalf("InvokeAction() = %v, want driver ErrNotResponding", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}

	close(sw.block)

	// The late completion still reaches the device state.
	waitFor(t, "late completion", func() bool {
		st, _ := th.GetState(id, switchID)
		return st["status"] == true
	})
	if _, err := th.InvokeAction(ctx, id, switchID, "getStatus", nil); err != nil {
		t.Errorf("InvokeAction() after timeout = %v", err)
	}
}

func TestSubscriptions(t *testing.T) {
	th := newTestHub(t, Options{})
	ctx := context.Background()
	sw := &fakeSwitch{udn: "sw-1"}
	id := th.online(t, "lab", sw, "sw-1")
	ch := &fakeChannel{id: "ws-1"}

	if _, err := th.Subscribe(ch, id, switchID); !errors.Is(err, device.ErrNotConnected) {
		t.Fatalf("Subscribe() while disconnected = %v", err)
	}
	if _, _, err := th.Connect(ctx, id, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := th.Subscribe(ch, id, "urn:none"); !errors.Is(err, device.ErrServiceNotFound) {
		t.Fatalf("Subscribe(unknown service) = %v", err)
	}

	sub, err := th.Subscribe(ch, id, switchID)
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := th.Subscribe(ch, id, switchID); again != sub {
		t.Error("second Subscribe() created a new subscriber")
	}

	setTarget := func(on bool) {
		t.Helper()
		if _, err := th.InvokeAction(ctx, id, switchID, "setTarget", map[string]any{"newTarget": on}); err != nil {
			t.Fatal(err)
		}
	}

	setTarget(true)
	setTarget(true) // unchanged, not delivered
	msgs := ch.messages()
	if len(msgs) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(msgs))
	}
	if msgs[0].DeviceID != id || msgs[0].ServiceID != switchID || msgs[0].EventData["status"] != true {
		t.Errorf("message = %+v", msgs[0])
	}

	if err := th.Unsubscribe(ch.ID(), id, switchID); err != nil {
		t.Fatal(err)
	}
	if err := th.Unsubscribe(ch.ID(), id, switchID); err != nil {
		t.Errorf("second Unsubscribe() = %v", err)
	}
	setTarget(false)
	if len(ch.messages()) != 1 {
		t.Error("event delivered after Unsubscribe")
	}

	if _, err := th.Subscribe(ch, id, switchID); err != nil {
		t.Fatal(err)
	}
	if n := th.CloseChannel(ch.ID()); n != 1 {
		t.Errorf("CloseChannel() = %d, want 1", n)
	}
	setTarget(true)
	if len(ch.messages()) != 1 {
		t.Error("event delivered after CloseChannel")
	}

	if _, err := th.Subscribe(ch, id, switchID); err != nil {
		t.Fatal(err)
	}
	th.DeviceOffline("lab", sw)
	if th.Subscriptions().Count() != 0 {
		t.Error("subscribers survived DeviceOffline")
	}
}

func TestPurgeModule(t *testing.T) {
	th := newTestHub(t, Options{})
	th.online(t, "lab", &fakeSwitch{udn: "a"}, "a")
	th.online(t, "lab", &fakeSwitch{udn: "b"}, "b")
	keep := th.online(t, "garage", &fakeSwitch{udn: "c"}, "c")

	th.PurgeModule("lab")
	if ids := th.ListDeviceIDs(); len(ids) != 1 || ids[0] != keep {
		t.Errorf("ListDeviceIDs() = %v, want [%s]", ids, keep)
	}
}

func TestOAuthConnect(t *testing.T) {
	delegates := &fakeDelegates{delegate: &fakeDelegate{}}
	th := newTestHub(t, Options{OAuth: delegates})
	ctx := context.Background()
	id := th.online(t, "cloud", &fakeSwitch{udn: "cloud-1"}, "cloud-1")
	plain := th.online(t, "lab", &fakeSwitch{udn: "sw-1"}, "sw-1")

	state, redirect, err := th.Connect(ctx, id, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if state != device.StateRedirecting || redirect == nil || redirect.Method != "GET" {
		t.Fatalf("Connect() = (%s, %+v)", state, redirect)
	}

	if _, err := th.CompleteOAuth(ctx, "forged", device.CallbackParams{Code: "good"}); !errors.Is(err, device.ErrCannotVerify) {
		t.Errorf("CompleteOAuth(bad state) = %v", err)
	}
	if _, err := th.CompleteOAuth(ctx, "state-"+id, device.CallbackParams{Code: "bad"}); err == nil {
		t.Error("CompleteOAuth(bad code) succeeded")
	}
	if _, err := th.CompleteOAuth(ctx, "state-"+plain, device.CallbackParams{Code: "good"}); !errors.Is(err, device.ErrNoAuthStrategy) {
		t.Errorf("CompleteOAuth() for a non-delegated device = %v", err)
	}

	got, err := th.CompleteOAuth(ctx, "state-"+id, device.CallbackParams{Code: "good"})
	if err != nil || got != id {
		t.Fatalf("CompleteOAuth() = (%s, %v)", got, err)
	}
	info, _ := th.Device(id)
	if info.Connection != device.StateConnected {
		t.Errorf("connection = %s, want connected", info.Connection)
	}
}

func TestCompleteOAuth_NoProviders(t *testing.T) {
	th := newTestHub(t, Options{})
	if _, err := th.CompleteOAuth(context.Background(), "x", device.CallbackParams{}); !errors.Is(err, device.ErrNoAuthStrategy) {
		t.Errorf("CompleteOAuth() = %v, want ErrNoAuthStrategy", err)
	}
}

func TestDiscoveryAndClose(t *testing.T) {
	th := newTestHub(t, Options{})
	ctx := context.Background()
	id := th.online(t, "lab", &fakeSwitch{udn: "sw-1"}, "sw-1")
	if _, _, err := th.Connect(ctx, id, "", ""); err != nil {
		t.Fatal(err)
	}

	th.DiscoverAll(ctx)
	th.StopDiscoverAll(ctx)
	th.Close(ctx)

	th.modules.mu.Lock()
	defer th.modules.mu.Unlock()
	if th.modules.discovers != 1 || !th.modules.closed {
		t.Errorf("modules = %+v", th.modules)
	}
	if len(th.ListDeviceIDs()) != 0 {
		t.Error("devices remain after Close")
	}

	th.telemetry.mu.Lock()
	defer th.telemetry.mu.Unlock()
	last := th.telemetry.connections[len(th.telemetry.connections)-1]
	if last != string(device.StateDisconnected) {
		t.Errorf("last recorded connection = %s", last)
	}
}

func TestClose_LateEventsDiscarded(t *testing.T) {
	th := newTestHub(t, Options{})
	ctx := context.Background()
	id := th.online(t, "lab", &fakeSwitch{udn: "sw-1"}, "sw-1")
	rec, err := th.lookup("test", id)
	if err != nil {
		t.Fatal(err)
	}

	th.Close(ctx)
	before := len(th.publisher.messages())

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Emit() after Close panicked: %v", r)
		}
	}()
	rec.base.Emit(switchID, map[string]any{"status": true, "power": 7.5})

	if got := len(th.publisher.messages()); got != before {
		t.Errorf("published %d events after Close", got-before)
	}
	th.telemetry.mu.Lock()
	defer th.telemetry.mu.Unlock()
	if _, ok := th.telemetry.values["power"]; ok {
		t.Error("telemetry written after Close")
	}
}
