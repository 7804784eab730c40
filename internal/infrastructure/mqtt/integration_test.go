//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Integration tests require a broker at 127.0.0.1:1883.
//
//	go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_DeviceStateRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "suntec-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	defer client.Close()

	type msg struct {
		id      string
		payload string
	}
	received := make(chan msg, 1)
	pattern := Topics{}.AllDeviceStates()

	err = client.Subscribe(pattern, 1, func(topic string, payload []byte) error {
		id, _ := DeviceIDFromTopic(pattern, topic)
		received <- msg{id: id, payload: string(payload)}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}

	body := `{"valor":1200,"nivel":3.4,"estado":"encendido"}`
	if err := client.Publish(Topics{}.DeviceState("int-dev-01"), []byte(body), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case m := <-received:
		if m.id != "int-dev-01" || m.payload != body {
			t.Errorf("received %+v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for device state")
	}

	if err := client.Unsubscribe(pattern); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}
