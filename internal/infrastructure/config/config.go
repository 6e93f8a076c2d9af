package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for RoomLink Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Devices  DevicesConfig  `yaml:"devices"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// DevicesConfig controls how device sessions connect.
type DevicesConfig struct {
	// TransportOrder lists transports to try, first to last.
	// Values: "streaming", "request_response". Default: both, streaming first.
	TransportOrder []string `yaml:"transport_order"`

	// ConnectTimeout bounds a whole connect attempt in seconds. Default: 20
	ConnectTimeout int `yaml:"connect_timeout"`

	// HandshakeTimeout bounds the streaming handshake in seconds. Default: 10
	HandshakeTimeout int `yaml:"handshake_timeout"`

	// RequestTimeout bounds one HTTPS round-trip in seconds. Default: 30
	RequestTimeout int `yaml:"request_timeout"`

	// IdentityPath is read once after connecting. Default: "Status/SystemUnit"
	IdentityPath string `yaml:"identity_path"`

	// StreamingPath is the WebSocket endpoint on the device. Default: "/ws"
	StreamingPath string `yaml:"streaming_path"`

	TLS DeviceTLSConfig `yaml:"tls"`

	// FeedbackPaths are subscribed on streaming sessions and relayed to MQTT.
	FeedbackPaths []string `yaml:"feedback_paths"`

	// Presets are connected at startup. Passwords should come from
	// ROOMLINK_DEVICE_<N>_PASSWORD rather than the file.
	Presets []DevicePreset `yaml:"presets"`
}

// DeviceTLSConfig controls certificate checks against devices.
type DeviceTLSConfig struct {
	// VerifyStreaming checks certificates on the streaming transport.
	// Default: true, so untrusted devices report certificate_untrusted.
	VerifyStreaming bool `yaml:"verify_streaming"`

	// VerifyHTTP checks certificates on the HTTPS transport. Default: false
	VerifyHTTP bool `yaml:"verify_http"`

	// CAFile is an optional PEM bundle of device CAs.
	CAFile string `yaml:"ca_file"`
}

// DevicePreset is a device connected at startup.
type DevicePreset struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains API token settings.
type JWTConfig struct {
	// Secret signs and verifies API tokens. Required, at least 32
	// characters; prefer ROOMLINK_JWT_SECRET over the file.
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the lifetime of tokens issued by "roomlink token",
	// in minutes. Default: 60
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// minJWTSecretLength matches auth.MinSecretLength.
const minJWTSecretLength = 32

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ROOMLINK_SECTION_KEY
// For example: ROOMLINK_DATABASE_PATH, ROOMLINK_API_PORT, ROOMLINK_JWT_SECRET
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
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		Devices: DevicesConfig{
			TransportOrder:   []string{"streaming", "request_response"},
			ConnectTimeout:   20,
			HandshakeTimeout: 10,
			RequestTimeout:   30,
			IdentityPath:     "Status/SystemUnit",
			StreamingPath:    "/ws",
			TLS: DeviceTLSConfig{
				VerifyStreaming: true,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/roomlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "roomlink-core",
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ROOMLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("ROOMLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ROOMLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ROOMLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ROOMLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ROOMLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ROOMLINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("ROOMLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (always set this outside the config file)
	if v := os.Getenv("ROOMLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Device passwords, 1-based: ROOMLINK_DEVICE_1_PASSWORD is presets[0].
	for i := range cfg.Devices.Presets {
		if v := os.Getenv(fmt.Sprintf("ROOMLINK_DEVICE_%d_PASSWORD", i+1)); v != "" {
			cfg.Devices.Presets[i].Password = v
		}
	}
}

var validTransports = map[string]bool{
	"streaming":        true,
	"request_response": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	// Devices validation
	if len(c.Devices.TransportOrder) == 0 {
		errs = append(errs, "devices.transport_order must list at least one transport")
	}
	seen := make(map[string]bool)
	for _, t := range c.Devices.TransportOrder {
		if !validTransports[t] {
			errs = append(errs, fmt.Sprintf("devices.transport_order: unknown transport %q", t))
		}
		if seen[t] {
			errs = append(errs, fmt.Sprintf("devices.transport_order: %q listed twice", t))
		}
		seen[t] = true
	}
	if c.Devices.ConnectTimeout <= 0 {
		errs = append(errs, "devices.connect_timeout must be positive")
	}
	for i, p := range c.Devices.Presets {
		if strings.TrimSpace(p.Host) == "" {
			errs = append(errs, fmt.Sprintf("devices.presets[%d].host is required", i))
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Security validation - the API refuses to start unauthenticated
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set ROOMLINK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// GetAccessTokenTTL returns the issued token lifetime as a Duration.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// GetConnectTimeout returns the device connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Devices.ConnectTimeout) * time.Second
}

// GetHandshakeTimeout returns the streaming handshake timeout as a Duration.
func (c *Config) GetHandshakeTimeout() time.Duration {
	return time.Duration(c.Devices.HandshakeTimeout) * time.Second
}

// GetRequestTimeout returns the HTTPS request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Devices.RequestTimeout) * time.Second
}
