package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8090
mystrom:
  scan_interval: 15s
  timeout: 5s
  devices:
    - host: "192.168.1.50"
      name: "Kitchen"
    - host: "192.168.1.51"
      mac: "AA:BB:CC:DD:EE:FF"
      device_type: "zero"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MyStrom.ScanInterval != 15*time.Second {
		t.Errorf("MyStrom.ScanInterval = %v, want 15s", cfg.MyStrom.ScanInterval)
	}
	if cfg.MyStrom.Timeout != 5*time.Second {
		t.Errorf("MyStrom.Timeout = %v, want 5s", cfg.MyStrom.Timeout)
	}
	if len(cfg.MyStrom.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.MyStrom.Devices))
	}
	if cfg.MyStrom.Devices[0].Name != "Kitchen" {
		t.Errorf("Devices[0].Name = %q, want Kitchen", cfg.MyStrom.Devices[0].Name)
	}
	if cfg.MyStrom.Devices[1].DeviceType != "zero" {
		t.Errorf("Devices[1].DeviceType = %q, want zero", cfg.MyStrom.Devices[1].DeviceType)
	}
}

func TestLoad_KeepsDefaultsForOmittedSections(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("mystrom:\n  devices: []\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MyStrom.ScanInterval != DefaultScanInterval {
		t.Errorf("ScanInterval = %v, want %v", cfg.MyStrom.ScanInterval, DefaultScanInterval)
	}
	if cfg.MyStrom.Timeout != DefaultRequestTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.MyStrom.Timeout, DefaultRequestTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
mystrom:
  devices:
    - name: "no host"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for device without host, got nil")
	}
	if !strings.Contains(err.Error(), "mystrom.devices[0].host is required") {
		t.Errorf("error = %v, want host required message", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.MyStrom.Devices = []DeviceConfig{{Host: "192.168.1.50"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port ignored when API disabled",
			mutate:  func(c *Config) { c.API.Enabled = false; c.API.Port = 0 },
			wantErr: false,
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.API.Auth.JWTSecret = "short" },
			wantErr: true,
		},
		{
			name:    "zero scan interval",
			mutate:  func(c *Config) { c.MyStrom.ScanInterval = 0 },
			wantErr: true,
		},
		{
			name:    "timeout longer than interval",
			mutate:  func(c *Config) { c.MyStrom.Timeout = time.Minute },
			wantErr: true,
		},
		{
			name: "duplicate host",
			mutate: func(c *Config) {
				c.MyStrom.Devices = append(c.MyStrom.Devices, DeviceConfig{Host: "192.168.1.50"})
			},
			wantErr: true,
		},
		{
			name:    "unknown device type",
			mutate:  func(c *Config) { c.MyStrom.Devices[0].DeviceType = "toaster" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("MYSTROM_DATABASE_PATH", "/custom/path.db")
	t.Setenv("MYSTROM_MQTT_HOST", "mqtt.example.com")
	t.Setenv("MYSTROM_MQTT_USERNAME", "testuser")
	t.Setenv("MYSTROM_MQTT_PASSWORD", "testpass")
	t.Setenv("MYSTROM_API_HOST", "192.168.1.1")
	t.Setenv("MYSTROM_JWT_SECRET", "jwt-secret")
	t.Setenv("MYSTROM_SCAN_INTERVAL", "45s")
	t.Setenv("MYSTROM_TIMEOUT", "not-a-duration")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Auth.JWTSecret != "jwt-secret" {
		t.Errorf("API.Auth.JWTSecret = %q, want %q", cfg.API.Auth.JWTSecret, "jwt-secret")
	}
	if cfg.MyStrom.ScanInterval != 45*time.Second {
		t.Errorf("MyStrom.ScanInterval = %v, want 45s", cfg.MyStrom.ScanInterval)
	}
	if cfg.MyStrom.Timeout != DefaultRequestTimeout {
		t.Errorf("MyStrom.Timeout = %v, want default after unparsable override", cfg.MyStrom.Timeout)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MyStrom.ScanInterval != 30*time.Second {
		t.Errorf("defaultConfig ScanInterval = %v, want 30s", cfg.MyStrom.ScanInterval)
	}
	if cfg.MyStrom.Timeout != 10*time.Second {
		t.Errorf("defaultConfig Timeout = %v, want 10s", cfg.MyStrom.Timeout)
	}
}
