package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/roomlink-core/internal/audit"
	"github.com/nerrad567/roomlink-core/internal/auth"
	"github.com/nerrad567/roomlink-core/internal/booking"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/config"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/roomlink-core/internal/session"
	"github.com/nerrad567/roomlink-core/internal/xapi"
)

const bookingsXML = `<Command><BookingsListResult status="OK">
	<Booking item="1"><Id>b-1</Id><Title>Standup</Title>
		<Time><StartTime>2026-10-16T09:00:00Z</StartTime><EndTime>2026-10-16T09:15:00Z</EndTime></Time>
	</Booking>
</BookingsListResult></Command>`

// fakeDevice is an in-memory xapi.Transport shared by every session the
// test factory creates.
type fakeDevice struct {
	mu         sync.Mutex
	connectErr error
	cmdErr     error
	lastSet    string
	lastCmd    string
}

type fakeTransport struct {
	kind xapi.Kind
	dev  *fakeDevice
}

func (f *fakeTransport) Kind() xapi.Kind { return f.kind }

func (f *fakeTransport) Connect(context.Context, xapi.Credentials) error {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	return f.dev.connectErr
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) Get(_ context.Context, path string) (*xapi.Node, error) {
	if path == session.DefaultIdentityPath {
		unit := xapi.NewObject("SystemUnit")
		unit.Append(xapi.NewScalar("ProductId", "Room Kit"))
		unit.Append(xapi.NewScalar("ProductPlatform", "Room Kit"))
		sw := xapi.NewObject("Software")
		sw.Append(xapi.NewScalar("Version", "ce11.1"))
		unit.Append(sw)
		return xapi.Wrap([]string{"Status", "SystemUnit"}, unit), nil
	}
	return xapi.Wrap([]string{"Status", "Audio"}, xapi.NewScalar("Volume", "42")), nil
}

func (f *fakeTransport) Set(_ context.Context, path, value string) (*xapi.Node, error) {
	f.dev.mu.Lock()
	f.dev.lastSet = path + "=" + value
	f.dev.mu.Unlock()
	return xapi.NewObject(""), nil
}

func (f *fakeTransport) Command(_ context.Context, name string, _ map[string]string) (*xapi.Node, error) {
	f.dev.mu.Lock()
	f.dev.lastCmd = name
	err := f.dev.cmdErr
	f.dev.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if name == booking.ListCommand {
		return xapi.DecodeXML(strings.NewReader(bookingsXML))
	}
	return xapi.Wrap([]string{"Command", strings.ReplaceAll(name, " ", "") + "Result"}, xapi.NewObject("")), nil
}

func (f *fakeTransport) Subscribe(context.Context, string, xapi.EventHandler) (xapi.Subscription, error) {
	return nil, xapi.ErrUnsupported
}

func (f *fakeTransport) SetOnClose(func(error)) {}

type fakeEvents struct {
	last audit.Filter
	err  error
}

func (f *fakeEvents) Create(context.Context, *audit.Event) error { return nil }

func (f *fakeEvents) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.last = filter
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{
		Events: []audit.Event{{ID: "e1", SessionID: "s1", State: "connected"}},
		Total:  1,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

type testEnv struct {
	srv      *Server
	handler  http.Handler
	registry *session.Registry
	device   *fakeDevice
	events   *fakeEvents
	token    string
}

func issueTestToken(t *testing.T, role auth.Role, ttl time.Duration) string {
	t.Helper()
	token, err := auth.IssueToken("panel-1", role, testSecret, ttl)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dev := &fakeDevice{}
	reg := session.NewRegistry(session.Config{
		TransportOrder: []xapi.Kind{xapi.KindRequestResponse},
		Factory: func(kind xapi.Kind) (xapi.Transport, error) {
			return &fakeTransport{kind: kind, dev: dev}, nil
		},
	})
	t.Cleanup(func() { reg.Close(context.Background()) }) //nolint:errcheck // test cleanup

	svc := booking.NewService(booking.ResolverFunc(func(ref string) (booking.Executor, error) {
		sess, err := reg.Resolve(ref)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}))

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
	events := &fakeEvents{}
	srv, err := New(Deps{
		Config:    config.APIConfig{Host: "127.0.0.1"},
		Logger:    log,
		Registry:  reg,
		Bookings:  svc,
		Events:    events,
		Checks:    map[string]HealthChecker{"database": fakeCheck{}},
		Version:   "test",
		JWTSecret: testSecret,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{
		srv:      srv,
		handler:  srv.Handler(),
		registry: reg,
		device:   dev,
		events:   events,
		token:    issueTestToken(t, auth.RoleOperator, time.Hour),
	}
}

// do sends a request carrying an operator token.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, e.token, method, path, body)
}

// doAs sends a request with the given bearer token; empty sends none.
func (e *testEnv) doAs(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) connect(t *testing.T, host string) session.Projection {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/devices", map[string]string{
		"host": host, "username": "admin", "password": "s3cr3t-pw",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("connect status = %d, body = %s", rec.Code, rec.Body)
	}
	var p session.Projection
	decode(t, rec, &p)
	return p
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e Error
	decode(t, rec, &e)
	return e.Code
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
	reg := session.NewRegistry(session.Config{})
	svc := booking.NewService(booking.ResolverFunc(func(string) (booking.Executor, error) { return nil, errors.New("none") }))

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Registry: reg, Bookings: svc, JWTSecret: testSecret}},
		{"no registry", Deps{Logger: log, Bookings: svc, JWTSecret: testSecret}},
		{"no bookings", Deps{Logger: log, Registry: reg, JWTSecret: testSecret}},
		{"no secret", Deps{Logger: log, Registry: reg, Bookings: svc}},
		{"short secret", Deps{Logger: log, Registry: reg, Bookings: svc, JWTSecret: "too-short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}

	env.srv.checks["mqtt"] = fakeCheck{err: errors.New("mqtt: client not connected")}
	rec = env.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d, want 503", rec.Code)
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMiddleware_BodyLimit(t *testing.T) {
	env := newTestEnv(t)
	big := `{"host":"` + strings.Repeat("a", maxRequestBodySize) + `"}`

	rec := env.do(t, http.MethodPost, "/api/v1/devices", big)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"https://panel.example.com"}
	h := env.srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "https://panel.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://panel.example.com" {
		t.Errorf("preflight = %d, headers = %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin got CORS header")
	}
}

func TestStart_AppliesConfiguredTimeouts(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.Port = 0
	env.srv.cfg.Timeouts = config.APITimeoutConfig{Read: 7, Write: 11, Idle: 90}

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { env.srv.Close() }) //nolint:errcheck // test cleanup

	hs := env.srv.server
	if hs.ReadTimeout != 7*time.Second || hs.ReadHeaderTimeout != 7*time.Second {
		t.Errorf("read timeouts = %v/%v, want 7s", hs.ReadTimeout, hs.ReadHeaderTimeout)
	}
	if hs.WriteTimeout != 11*time.Second {
		t.Errorf("WriteTimeout = %v, want 11s", hs.WriteTimeout)
	}
	if hs.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout = %v, want 90s", hs.IdleTimeout)
	}
}
