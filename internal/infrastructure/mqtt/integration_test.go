//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectAndClose(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "mystrom-int-connect"

	client, err := Connect(cfg, Topics{}.BridgeHealth("mystrom-int"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestIntegration_CommandRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "mystrom-int-roundtrip"

	client, err := Connect(cfg, Topics{}.BridgeHealth("mystrom-int"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var (
		mu       sync.Mutex
		received string
		done     = make(chan struct{}, 1)
	)
	err = client.Subscribe(Topics{}.BridgeCommands("mystrom-int"), 1, func(topic string, _ []byte) error {
		mu.Lock()
		received = EntityFromTopic(topic)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.BridgeCommands("mystrom-int")) {
		t.Error("subscription not tracked")
	}

	topic := Topics{}.BridgeCommand("mystrom-int", "switch.kitchen")
	if err := client.Publish(topic, []byte(`{"command":"toggle"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for command")
	}

	mu.Lock()
	defer mu.Unlock()
	if received != "switch.kitchen" {
		t.Errorf("entity = %q, want switch.kitchen", received)
	}
}
