package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the RFLink gateway
// service. All configuration is loaded from YAML and can be overridden by
// environment variables.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Commands CommandsConfig `yaml:"commands"`
	Relay    RelayConfig    `yaml:"relay"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
	Ignore   []string       `yaml:"ignore"`
}

// GatewayConfig contains the upstream gateway link settings.
type GatewayConfig struct {
	// Device is the serial device path ("/dev/ttyACM0"). Leave Host empty
	// to use serial.
	Device string `yaml:"device"`

	// Baud is the serial baud rate. The stock firmware runs at 57600.
	Baud int `yaml:"baud"`

	// Host selects TCP mode (ser2net, ESP bridge) when non-empty.
	Host string `yaml:"host"`

	// Port is the TCP port for Host.
	Port int `yaml:"port"`

	// AutoReconnect re-opens the link after a failure.
	AutoReconnect bool `yaml:"auto_reconnect"`

	// ReconnectInitialDelay is the first backoff, in seconds.
	ReconnectInitialDelay int `yaml:"reconnect_initial_delay"`

	// ReconnectMaxDelay caps the backoff, in seconds.
	ReconnectMaxDelay int `yaml:"reconnect_max_delay"`

	// MaxLineLength bounds buffered partial lines from the gateway.
	MaxLineLength int `yaml:"max_line_length"`
}

// CommandsConfig contains the outbound command cadence.
type CommandsConfig struct {
	// Repeat is the number of transmissions per switch command.
	Repeat int `yaml:"repeat"`

	// DelayMs separates those transmissions, in milliseconds.
	DelayMs int `yaml:"delay_ms"`
}

// RelayConfig contains the downstream relay listener settings.
type RelayConfig struct {
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the TCP address clients connect to (":14444").
	ListenAddr string `yaml:"listen_addr"`

	// ClientBuffer is the per-client outbound line buffer; a client
	// falling this far behind is dropped.
	ClientBuffer int `yaml:"client_buffer"`

	// MaxClients caps concurrent downstream connections.
	MaxClients int `yaml:"max_clients"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RFLINK_SECTION_KEY
// For example: RFLINK_GATEWAY_DEVICE, RFLINK_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults: a serial gateway on
// /dev/ttyACM0, auto-reconnect on, relay and MQTT disabled.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Device:                "/dev/ttyACM0",
			Baud:                  57600,
			Port:                  1234,
			AutoReconnect:         true,
			ReconnectInitialDelay: 5,
			ReconnectMaxDelay:     120,
			MaxLineLength:         1024,
		},
		Commands: CommandsConfig{
			Repeat:  1,
			DelayMs: 500,
		},
		Relay: RelayConfig{
			ListenAddr:   ":14444",
			ClientBuffer: 64,
			MaxClients:   16,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rflink-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern:
// RFLINK_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("RFLINK_GATEWAY_DEVICE"); v != "" {
		cfg.Gateway.Device = v
	}
	if v := os.Getenv("RFLINK_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("RFLINK_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("RFLINK_GATEWAY_BAUD"); v != "" {
		if baud, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Baud = baud
		}
	}

	// Relay
	if v := os.Getenv("RFLINK_RELAY_LISTEN_ADDR"); v != "" {
		cfg.Relay.ListenAddr = v
	}

	// MQTT
	if v := os.Getenv("RFLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RFLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RFLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Logging
	if v := os.Getenv("RFLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation: exactly one transport must be usable.
	if c.Gateway.Device == "" && c.Gateway.Host == "" {
		errs = append(errs, "gateway.device or gateway.host is required")
	}
	if c.Gateway.Host != "" && (c.Gateway.Port < 1 || c.Gateway.Port > 65535) {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if c.Gateway.Baud < 0 {
		errs = append(errs, "gateway.baud must be positive")
	}
	if c.Gateway.MaxLineLength < 0 {
		errs = append(errs, "gateway.max_line_length must be positive")
	}

	// Commands validation
	if c.Commands.Repeat < 1 {
		errs = append(errs, "commands.repeat must be at least 1")
	}
	if c.Commands.DelayMs < 0 {
		errs = append(errs, "commands.delay_ms must not be negative")
	}

	// Relay validation
	if c.Relay.Enabled && c.Relay.ListenAddr == "" {
		errs = append(errs, "relay.listen_addr is required when relay is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// UseSerial reports whether the gateway link is a local serial device.
func (c *Config) UseSerial() bool {
	return c.Gateway.Host == ""
}

// GetReconnectInitialDelay returns the initial reconnect backoff.
func (c *Config) GetReconnectInitialDelay() time.Duration {
	return time.Duration(c.Gateway.ReconnectInitialDelay) * time.Second
}

// GetReconnectMaxDelay returns the reconnect backoff cap.
func (c *Config) GetReconnectMaxDelay() time.Duration {
	return time.Duration(c.Gateway.ReconnectMaxDelay) * time.Second
}

// GetCommandDelay returns the inter-repeat command delay.
func (c *Config) GetCommandDelay() time.Duration {
	return time.Duration(c.Commands.DelayMs) * time.Millisecond
}
