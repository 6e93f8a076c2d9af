package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/roomlink-core/internal/auth"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/config"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/roomlink-core/internal/xapi"
)

const testJWTSecret = "test-secret-key-for-jwt-signing-0123456789"

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("ROOMLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_StartsAndStops runs the whole stack against a temp database and
// shuts it down by cancelling the context.
func TestRun_StartsAndStops(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
api:
  host: "127.0.0.1"
  port: 18089
database:
  path: "` + filepath.Join(dir, "roomlink.db") + `"
mqtt:
  enabled: false
logging:
  level: error
  format: text
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("ROOMLINK_CONFIG", configPath)
	t.Setenv("ROOMLINK_JWT_SECRET", testJWTSecret)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "roomlink.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestRunToken(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
database:
  path: "` + filepath.Join(dir, "roomlink.db") + `"
mqtt:
  enabled: false
security:
  jwt:
    access_token_ttl: 30
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("ROOMLINK_CONFIG", configPath)
	t.Setenv("ROOMLINK_JWT_SECRET", testJWTSecret)

	var out bytes.Buffer
	if err := runToken([]string{"-subject", "panel-1", "-role", "operator"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testJWTSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "panel-1" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", ttl)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no subject", []string{"-role", "operator"}},
		{"unknown role", []string{"-subject", "panel-1", "-role", "admin"}},
		{"unknown flag", []string{"-subject", "panel-1", "-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := runToken(tt.args, io.Discard); err == nil {
				t.Error("runToken() should fail")
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("ROOMLINK_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("ROOMLINK_CONFIG", "/etc/roomlink/config.yaml")
	if got := getConfigPath(); got != "/etc/roomlink/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestSessionConfig(t *testing.T) {
	log := logging.Default()

	cfg := &config.Config{Devices: config.DevicesConfig{
		TransportOrder:   []string{"request_response", "streaming"},
		ConnectTimeout:   5,
		HandshakeTimeout: 3,
		RequestTimeout:   7,
		IdentityPath:     "Status/SystemUnit",
		StreamingPath:    "/ws",
		TLS:              config.DeviceTLSConfig{VerifyStreaming: false, VerifyHTTP: true},
	}}

	sc, err := sessionConfig(cfg, log)
	if err != nil {
		t.Fatalf("sessionConfig() error: %v", err)
	}
	if len(sc.TransportOrder) != 2 || sc.TransportOrder[0] != xapi.KindRequestResponse {
		t.Errorf("TransportOrder = %v", sc.TransportOrder)
	}
	if sc.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v", sc.ConnectTimeout)
	}
	opts := sc.TransportOptions
	if !opts.StreamingInsecureSkipVerify || !opts.HTTPVerifyCertificates {
		t.Errorf("TLS options = %+v", opts)
	}
	if opts.HandshakeTimeout != 3*time.Second || opts.RequestTimeout != 7*time.Second {
		t.Errorf("timeouts = %v / %v", opts.HandshakeTimeout, opts.RequestTimeout)
	}

	cfg.Devices.TransportOrder = []string{"carrier-pigeon"}
	if _, err := sessionConfig(cfg, log); err == nil {
		t.Error("sessionConfig() should reject an unknown transport")
	}

	cfg.Devices.TransportOrder = []string{"streaming"}
	cfg.Devices.TLS.CAFile = filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(cfg.Devices.TLS.CAFile, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := sessionConfig(cfg, log); err == nil {
		t.Error("sessionConfig() should reject a CA file without certificates")
	}
}
