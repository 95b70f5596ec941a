package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Device polling defaults.
const (
	// DefaultScanInterval is how often each device's report is polled.
	DefaultScanInterval = 30 * time.Second

	// DefaultRequestTimeout bounds a single device HTTP call (connect + read).
	DefaultRequestTimeout = 10 * time.Second
)

// Known device type tags accepted in device configuration.
var validDeviceTypes = map[string]bool{
	"switch": true,
	"zero":   true,
	"bulb":   true,
	"button": true,
}

// Config is the root configuration structure for the myStrom bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	MyStrom   MyStromConfig   `yaml:"mystrom"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APIAuthConfig controls bearer-token protection of the service endpoints.
// Leaving JWTSecret empty disables authentication (LAN-only deployments).
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MyStromConfig contains device polling settings and the configured devices.
type MyStromConfig struct {
	// ScanInterval is the fixed refresh cadence per device.
	// Default: 30s
	ScanInterval time.Duration `yaml:"scan_interval"`

	// Timeout bounds each device request, connect and read included.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// HealthInterval is how often bridge health is published over MQTT.
	// Default: 30s
	HealthInterval time.Duration `yaml:"health_interval"`

	// Devices lists the configured devices (one config entry each).
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig is one configured device. Only Host is required; MAC and
// DeviceType are filled from the device report during setup when missing.
type DeviceConfig struct {
	Host       string `yaml:"host"`
	Name       string `yaml:"name,omitempty"`
	MAC        string `yaml:"mac,omitempty"`
	DeviceType string `yaml:"device_type,omitempty"`
	UniqueID   string `yaml:"unique_id,omitempty"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MYSTROM_SECTION_KEY
// For example: MYSTROM_DATABASE_PATH, MYSTROM_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/mystrom.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mystrom-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		MyStrom: MyStromConfig{
			ScanInterval:   DefaultScanInterval,
			Timeout:        DefaultRequestTimeout,
			HealthInterval: 30 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MYSTROM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("MYSTROM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MYSTROM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MYSTROM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MYSTROM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MYSTROM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MYSTROM_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// Polling
	if v := os.Getenv("MYSTROM_SCAN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MyStrom.ScanInterval = d
		}
	}
	if v := os.Getenv("MYSTROM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MyStrom.Timeout = d
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A short HMAC secret lets anyone on the LAN forge service tokens.
	const minJWTSecretLength = 32
	if s := c.API.Auth.JWTSecret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
	}

	errs = append(errs, c.MyStrom.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks polling settings and every configured device.
func (m MyStromConfig) validate() []string {
	var errs []string

	if m.ScanInterval <= 0 {
		errs = append(errs, "mystrom.scan_interval must be positive")
	}
	if m.Timeout <= 0 {
		errs = append(errs, "mystrom.timeout must be positive")
	}
	if m.ScanInterval > 0 && m.Timeout > m.ScanInterval {
		errs = append(errs, "mystrom.timeout must not exceed mystrom.scan_interval")
	}

	seen := make(map[string]bool, len(m.Devices))
	for i, d := range m.Devices {
		host := strings.TrimSpace(d.Host)
		if host == "" {
			errs = append(errs, fmt.Sprintf("mystrom.devices[%d].host is required", i))
			continue
		}
		if seen[host] {
			errs = append(errs, fmt.Sprintf("mystrom.devices[%d].host %q is configured twice", i, host))
		}
		seen[host] = true

		if d.DeviceType != "" && !validDeviceTypes[d.DeviceType] {
			errs = append(errs, fmt.Sprintf("mystrom.devices[%d].device_type %q must be one of switch, zero, bulb, button", i, d.DeviceType))
		}
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
