// Package hadevice is the demo DeviceRegistry/DeviceBuilder pair: it
// publishes discovered devices as Home Assistant MQTT discovery configs and
// polls their metrics onto per-metric state topics, generalized from the
// source project's MQTT publisher and topic-factory code.
package hadevice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	adaptererrors "github.com/hahn-schickard/modbus-technology-adapter/pkg/errors"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/model"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/recovery"
)

// deviceInfo is the Home Assistant "device" object every sensor's config
// payload embeds, so all of a device's metrics group under one HA device.
type deviceInfo struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// discoveryConfig is the retained payload published to the sensor's config
// topic; Home Assistant creates or updates the entity from this document.
type discoveryConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	ValueTemplate       string     `json:"value_template"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadAvailable    string     `json:"payload_available"`
	PayloadNotAvailable string     `json:"payload_not_available"`
	StateClass          string     `json:"state_class,omitempty"`
	Device              deviceInfo `json:"device"`
}

// statePayload is published, non-retained, to a metric's state topic.
type statePayload struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type registeredMetric struct {
	key   string
	read  model.ReadFunc
	topic string
}

type registeredDevice struct {
	id             string
	discoveryTopic []string // retained configs to clear on deregister
	metrics        []registeredMetric
}

// mqttClient is the slice of paho.Client this package drives; kept local so
// tests can substitute a fake without a live broker.
type mqttClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
}

// HARegistry implements model.DeviceRegistry against Home Assistant's MQTT
// discovery protocol. Publishes are wrapped by a CircuitBreaker so a broker
// outage degrades registry publishes without blocking Modbus polling.
type HARegistry struct {
	cfg     Config
	client  mqttClient
	breaker *recovery.CircuitBreaker

	mu      sync.RWMutex
	devices map[string]*registeredDevice
}

// NewHARegistry builds a registry around a fresh paho client. Connect must
// be called before Register/Deregister will succeed.
func NewHARegistry(cfg Config) *HARegistry {
	cfg = cfg.withDefaults()

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(availabilityTopic(cfg.StateBase), "offline", 1, true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		logger.LogInfo("home assistant registry connected to mqtt broker")
		if token := c.Publish(availabilityTopic(cfg.StateBase), 1, true, "online"); token.Wait() && token.Error() != nil {
			logger.LogWarn("failed publishing online availability: %v", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		logger.LogError("home assistant registry disconnected: %v", err)
	})

	return newHARegistry(cfg, paho.NewClient(opts))
}

func newHARegistry(cfg Config, client mqttClient) *HARegistry {
	return &HARegistry{
		cfg:     cfg,
		client:  client,
		breaker: recovery.NewCircuitBreaker(recovery.CircuitBreakerConfig{}),
		devices: make(map[string]*registeredDevice),
	}
}

// Connect retries indefinitely until the broker accepts the connection or
// ctx is cancelled, mirroring the source project's publisher connect loop.
func (r *HARegistry) Connect(ctx context.Context) error {
	attempt := 1
	for {
		if token := r.client.Connect(); token.Wait() && token.Error() != nil {
			logger.LogError("mqtt connect failed (attempt %d): %v", attempt, token.Error())
			select {
			case <-ctx.Done():
				return adaptererrors.NewTransportError("hadevice.connect", ctx.Err(), r.cfg.Broker, adaptererrors.NonRetryable)
			case <-time.After(r.cfg.RetryDelay):
				attempt++
				continue
			}
		}

		for i := 0; i < 50; i++ {
			if r.client.IsConnected() {
				return nil
			}
			select {
			case <-ctx.Done():
				return adaptererrors.NewTransportError("hadevice.connect", ctx.Err(), r.cfg.Broker, adaptererrors.NonRetryable)
			case <-time.After(100 * time.Millisecond):
			}
		}
		attempt++
	}
}

// Disconnect publishes offline availability and closes the connection.
func (r *HARegistry) Disconnect() {
	if r.client.IsConnected() {
		r.client.Publish(availabilityTopic(r.cfg.StateBase), 1, true, "offline").Wait()
		r.client.Disconnect(250)
	}
}

// Register publishes one retained discovery config per readable metric in
// the device's element tree and remembers every metric's read function and
// state topic for later polling via ExecuteGroup.
func (r *HARegistry) Register(ctx context.Context, device model.Device) (bool, error) {
	rd := &registeredDevice{id: device.ID}
	info := deviceInfo{Name: device.Name, Identifiers: []string{device.ID}, Manufacturer: r.cfg.Manufacturer, Model: r.cfg.Model}

	var walk func(prefix string, g model.Group) error
	walk = func(prefix string, g model.Group) error {
		for _, readable := range g.Readables {
			key := metricKey(prefix, readable.Name)
			topic := stateTopic(r.cfg.StateBase, device.ID, key)
			cfgTopic := discoveryTopic(r.cfg.DiscoveryPrefix, device.ID, key)

			payload := discoveryConfig{
				Name:                readable.Name,
				UniqueID:            uniqueID(device.ID, key),
				StateTopic:          topic,
				ValueTemplate:       "{{ value_json.value }}",
				AvailabilityTopic:   availabilityTopic(r.cfg.StateBase),
				PayloadAvailable:    "online",
				PayloadNotAvailable: "offline",
				StateClass:          "measurement",
				Device:              info,
			}
			body, err := json.Marshal(payload)
			if err != nil {
				return adaptererrors.NewRegistryError("hadevice.register.marshal", err, device.ID)
			}
			if err := r.publish(cfgTopic, 0, true, body); err != nil {
				return adaptererrors.NewRegistryError("hadevice.register.publish_discovery", err, device.ID)
			}

			rd.discoveryTopic = append(rd.discoveryTopic, cfgTopic)
			rd.metrics = append(rd.metrics, registeredMetric{key: key, read: readable.Read, topic: topic})
		}
		for _, sub := range g.Groups {
			if err := walk(metricKey(prefix, sub.Name), sub); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk("", device.Root); err != nil {
		return false, err
	}

	r.mu.Lock()
	r.devices[device.ID] = rd
	r.mu.Unlock()

	logger.LogInfo("registered device %q with %d metric(s)", device.ID, len(rd.metrics))
	return true, nil
}

// Deregister clears every retained discovery config for the device and
// stops it from being polled.
func (r *HARegistry) Deregister(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	rd, ok := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	for _, topic := range rd.discoveryTopic {
		if err := r.publish(topic, 0, true, nil); err != nil {
			logger.LogWarn("failed clearing discovery config %q: %v", topic, err)
		}
	}
	logger.LogInfo("deregistered device %q", id)
	return true, nil
}

// ExecuteGroup reads and publishes every metric of the device named by
// groupKey (the device id), satisfying pkg/scheduler's Executor contract.
func (r *HARegistry) ExecuteGroup(ctx context.Context, groupKey string) (int, error) {
	r.mu.RLock()
	rd, ok := r.devices[groupKey]
	r.mu.RUnlock()
	if !ok {
		return 0, adaptererrors.NewLifecycleError("hadevice.execute_group", groupKey)
	}

	n := 0
	var firstErr error
	for _, m := range rd.metrics {
		value, err := m.read(ctx)
		if err != nil {
			logger.LogWarn("read failed for %s/%s: %v", groupKey, m.key, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		body, err := json.Marshal(statePayload{Value: value, Timestamp: time.Now()})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := r.publish(m.topic, 0, false, body); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}

// GroupKeys lists every currently registered device id, for the demo CLI to
// hand to the scheduler as poll groups.
func (r *HARegistry) GroupKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.devices))
	for id := range r.devices {
		keys = append(keys, id)
	}
	return keys
}

func (r *HARegistry) publish(topic string, qos byte, retained bool, payload interface{}) error {
	return r.breaker.Call(func() error {
		if !r.client.IsConnected() {
			return fmt.Errorf("mqtt client not connected")
		}
		var p interface{} = payload
		if payload == nil {
			p = []byte{}
		}
		token := r.client.Publish(topic, qos, retained, p)
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	})
}

func metricKey(prefix, name string) string {
	if prefix == "" {
		return sanitize(name)
	}
	return prefix + "_" + sanitize(name)
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

var _ model.DeviceRegistry = (*HARegistry)(nil)
