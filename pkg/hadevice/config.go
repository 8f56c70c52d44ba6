package hadevice

import "time"

// Config configures the Home Assistant MQTT discovery registry: broker
// connection parameters plus the topic prefixes discovery configs and
// state updates are published under.
type Config struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string

	// DiscoveryPrefix is Home Assistant's configured discovery prefix,
	// normally "homeassistant".
	DiscoveryPrefix string
	// StateBase is the root topic state updates are published under,
	// e.g. "modbus-adapter".
	StateBase string

	KeepAlive  time.Duration
	RetryDelay time.Duration

	Manufacturer string
	Model        string
}

func (c Config) withDefaults() Config {
	if c.KeepAlive == 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = "homeassistant"
	}
	if c.StateBase == "" {
		c.StateBase = "modbus-adapter"
	}
	if c.Manufacturer == "" {
		c.Manufacturer = "Hahn-Schickard"
	}
	if c.Model == "" {
		c.Model = "Modbus Technology Adapter"
	}
	return c
}
