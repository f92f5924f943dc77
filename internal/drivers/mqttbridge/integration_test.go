//go:build integration

package mqttbridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/module"
)

// Needs a broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/drivers/mqttbridge/...
func TestIntegration_AnnounceOverBroker(t *testing.T) {
	client, err := mqtt.Connect(config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: fmt.Sprintf("graylogic-bridge-test-%d", time.Now().UnixNano()),
		},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}, "bridge-test")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	name := fmt.Sprintf("it%d", time.Now().UnixNano())
	sig := &recordingSignals{}
	b, err := newBridge(module.Env{Name: name, Signals: sig}, client)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close(context.Background()) //nolint:errcheck // Test cleanup

	spec := []byte(`{"deviceType":"urn:x:device:plug:1","friendlyName":"Plug","serviceList":[]}`)
	if err := client.Publish(mqtt.Topics{}.BridgeAnnounce(name, "plug-1"), spec, 1, false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sig.mu.Lock()
		n := len(sig.online)
		sig.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("announcement not received")
}
