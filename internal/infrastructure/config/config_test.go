package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testJWTSecret = "test-secret-key-for-jwt-signing-0123456789"

// writeConfig writes content to a temp file. The JWT secret comes from the
// environment so each test file stays focused on what it checks.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	t.Setenv("ROOMLINK_JWT_SECRET", testJWTSecret)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
api:
  host: "127.0.0.1"
  port: 9090
devices:
  transport_order: ["request_response"]
  connect_timeout: 5
  feedback_paths: ["Status/Audio/Volume"]
  presets:
    - host: "codec.example.com"
      username: "admin"
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
  qos: 1
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if len(cfg.Devices.TransportOrder) != 1 || cfg.Devices.TransportOrder[0] != "request_response" {
		t.Errorf("TransportOrder = %v", cfg.Devices.TransportOrder)
	}
	if cfg.GetConnectTimeout() != 5*time.Second {
		t.Errorf("GetConnectTimeout() = %v", cfg.GetConnectTimeout())
	}
	if len(cfg.Devices.Presets) != 1 || cfg.Devices.Presets[0].Host != "codec.example.com" {
		t.Errorf("Presets = %+v", cfg.Devices.Presets)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}

	// Defaults survive partial files.
	if cfg.Devices.IdentityPath != "Status/SystemUnit" {
		t.Errorf("IdentityPath = %q", cfg.Devices.IdentityPath)
	}
	if !cfg.Devices.TLS.VerifyStreaming || cfg.Devices.TLS.VerifyHTTP {
		t.Errorf("TLS defaults = %+v", cfg.Devices.TLS)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, `
devices:
  transport_order: ["carrier_pigeon"]
`))
	if err == nil || !strings.Contains(err.Error(), "carrier_pigeon") {
		t.Errorf("Load() error = %v, want unknown transport", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROOMLINK_DATABASE_PATH", "/var/lib/roomlink.db")
	t.Setenv("ROOMLINK_API_PORT", "9443")
	t.Setenv("ROOMLINK_MQTT_PASSWORD", "broker-secret")
	t.Setenv("ROOMLINK_DEVICE_2_PASSWORD", "from-env")

	cfg, err := Load(writeConfig(t, `
devices:
  presets:
    - host: "a.example.com"
      password: "from-file"
    - host: "b.example.com"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/roomlink.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.API.Port != 9443 {
		t.Errorf("API.Port = %d", cfg.API.Port)
	}
	if cfg.MQTT.Auth.Password != "broker-secret" {
		t.Errorf("MQTT.Auth.Password not overridden")
	}
	if cfg.Devices.Presets[0].Password != "from-file" {
		t.Errorf("preset 1 password = %q, want from-file", cfg.Devices.Presets[0].Password)
	}
	if cfg.Devices.Presets[1].Password != "from-env" {
		t.Errorf("preset 2 password = %q, want from-env", cfg.Devices.Presets[1].Password)
	}
	if cfg.Security.JWT.Secret != testJWTSecret {
		t.Errorf("Security.JWT.Secret not taken from ROOMLINK_JWT_SECRET")
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	configPath := writeConfig(t, "api:\n  port: 8080\n")
	t.Setenv("ROOMLINK_JWT_SECRET", "")

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("Load() error = %v, want missing secret", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "tls without files",
			mutate:  func(c *Config) { c.API.TLS.Enabled = true },
			wantErr: true,
		},
		{
			name:    "empty transport order",
			mutate:  func(c *Config) { c.Devices.TransportOrder = nil },
			wantErr: true,
		},
		{
			name:    "duplicate transport",
			mutate:  func(c *Config) { c.Devices.TransportOrder = []string{"streaming", "streaming"} },
			wantErr: true,
		},
		{
			name:    "non-positive connect timeout",
			mutate:  func(c *Config) { c.Devices.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "preset without host",
			mutate:  func(c *Config) { c.Devices.Presets = []DevicePreset{{Username: "admin"}} },
			wantErr: true,
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
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: true,
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "too-short" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWT.Secret = testJWTSecret
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := defaultConfig()

	if cfg.API.GetReadTimeout() != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v", cfg.API.GetReadTimeout())
	}
	if cfg.API.GetWriteTimeout() != 60*time.Second {
		t.Errorf("GetWriteTimeout() = %v", cfg.API.GetWriteTimeout())
	}
	if cfg.API.GetIdleTimeout() != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v", cfg.API.GetIdleTimeout())
	}
	if cfg.GetAccessTokenTTL() != time.Hour {
		t.Errorf("GetAccessTokenTTL() = %v", cfg.GetAccessTokenTTL())
	}
	if cfg.GetHandshakeTimeout() != 10*time.Second {
		t.Errorf("GetHandshakeTimeout() = %v", cfg.GetHandshakeTimeout())
	}
	if cfg.GetRequestTimeout() != 30*time.Second {
		t.Errorf("GetRequestTimeout() = %v", cfg.GetRequestTimeout())
	}
}
