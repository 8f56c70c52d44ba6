package hadevice

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/model"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                            { return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool       { return true }
func (t *fakeToken) Done() <-chan struct{}                  { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                           { return t.err }

type publishedMessage struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	published []publishedMessage
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	var body []byte
	switch v := payload.(type) {
	case []byte:
		body = v
	case string:
		body = []byte(v)
	}
	c.mu.Lock()
	c.published = append(c.published, publishedMessage{topic: topic, retained: retained, payload: body})
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) messages() []publishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]publishedMessage, len(c.published))
	copy(out, c.published)
	return out
}

func testDevice() model.Device {
	b := NewHADeviceBuilder()
	b.BuildDeviceBase("meter1", "Meter 1", "test meter")
	groupID := b.AddDeviceElementGroup("instant", "instantaneous values")
	b.AddReadableMetric(groupID, "voltage", "line voltage", model.TypeFloat64, func(ctx context.Context) (float64, error) {
		return 230.5, nil
	})
	dev, _ := b.GetResult()
	return dev
}

func TestHADeviceBuilderBuildsFlatGroupTree(t *testing.T) {
	dev := testDevice()
	if dev.ID != "meter1" {
		t.Fatalf("expected device id meter1, got %q", dev.ID)
	}
	if len(dev.Root.Groups) != 1 || dev.Root.Groups[0].Name != "instant" {
		t.Fatalf("expected one 'instant' group, got %+v", dev.Root.Groups)
	}
	if len(dev.Root.Groups[0].Readables) != 1 || dev.Root.Groups[0].Readables[0].Name != "voltage" {
		t.Fatalf("expected one voltage readable, got %+v", dev.Root.Groups[0].Readables)
	}
}

func TestRegisterPublishesRetainedDiscoveryConfigs(t *testing.T) {
	client := &fakeClient{connected: true}
	r := newHARegistry(Config{}.withDefaults(), client)

	ok, err := r.Register(context.Background(), testDevice())
	if err != nil || !ok {
		t.Fatalf("expected register to succeed, got ok=%v err=%v", ok, err)
	}

	msgs := client.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one discovery publish, got %d", len(msgs))
	}
	if !msgs[0].retained {
		t.Fatal("expected discovery config to be retained")
	}
	wantTopic := "homeassistant/sensor/meter1_instant_voltage/config"
	if msgs[0].topic != wantTopic {
		t.Fatalf("expected topic %q, got %q", wantTopic, msgs[0].topic)
	}

	var cfg discoveryConfig
	if err := json.Unmarshal(msgs[0].payload, &cfg); err != nil {
		t.Fatalf("failed to unmarshal discovery config: %v", err)
	}
	if cfg.StateTopic != "modbus-adapter/meter1/instant_voltage/state" {
		t.Fatalf("unexpected state topic: %q", cfg.StateTopic)
	}
}

func TestExecuteGroupPublishesDecodedValue(t *testing.T) {
	client := &fakeClient{connected: true}
	r := newHARegistry(Config{}.withDefaults(), client)

	if _, err := r.Register(context.Background(), testDevice()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	n, err := r.ExecuteGroup(context.Background(), "meter1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 metric published, got %d", n)
	}

	msgs := client.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected discovery + state publish, got %d", len(msgs))
	}
	state := msgs[len(msgs)-1]
	if state.retained {
		t.Fatal("expected state publish to be non-retained")
	}

	var payload statePayload
	if err := json.Unmarshal(state.payload, &payload); err != nil {
		t.Fatalf("failed to unmarshal state payload: %v", err)
	}
	if payload.Value != 230.5 {
		t.Fatalf("expected value 230.5, got %v", payload.Value)
	}
}

func TestDeregisterClearsRetainedConfigsAndStopsPolling(t *testing.T) {
	client := &fakeClient{connected: true}
	r := newHARegistry(Config{}.withDefaults(), client)

	if _, err := r.Register(context.Background(), testDevice()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ok, err := r.Deregister(context.Background(), "meter1")
	if err != nil || !ok {
		t.Fatalf("expected deregister to succeed, got ok=%v err=%v", ok, err)
	}

	if _, err := r.ExecuteGroup(context.Background(), "meter1"); err == nil {
		t.Fatal("expected execute group on a deregistered device to error")
	}

	msgs := client.messages()
	clear := msgs[len(msgs)-1]
	if len(clear.payload) != 0 || !clear.retained {
		t.Fatalf("expected a retained empty clearing publish, got %+v", clear)
	}
}

func TestExecuteGroupUnknownDeviceErrors(t *testing.T) {
	r := newHARegistry(Config{}.withDefaults(), &fakeClient{connected: true})
	if _, err := r.ExecuteGroup(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unregistered group key")
	}
}
