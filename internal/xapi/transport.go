package xapi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Kind identifies a transport variant.
type Kind string

// Transport kinds.
const (
	KindStreaming       Kind = "streaming"
	KindRequestResponse Kind = "request_response"
)

// ParseKind converts a config string to a Kind.
// Accepts "streaming"/"websocket"/"ws" and "request_response"/"http"/"https".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "streaming", "websocket", "ws":
		return KindStreaming, nil
	case "request_response", "http", "https":
		return KindRequestResponse, nil
	default:
		return "", fmt.Errorf("unknown transport kind %q", s)
	}
}

// Credentials identify and authenticate against one device.
//
// The password is never rendered by String or LogValue.
type Credentials struct {
	Host     string
	Username string
	Password string
}

// String renders the credentials without the password.
func (c Credentials) String() string {
	return c.Username + "@" + c.Host
}

// LogValue implements slog.LogValuer so credentials are safe to log.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", c.Host),
		slog.String("username", c.Username),
	)
}

// Validate checks that the credentials can be used to dial a device.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrProtocol)
	}
	if strings.ContainsAny(c.Host, "/?#@ ") {
		return fmt.Errorf("%w: invalid host %q", ErrProtocol, c.Host)
	}
	return nil
}

// Event is one feedback notification pushed by the device.
type Event struct {
	// SubscriptionID is the device-assigned feedback id.
	SubscriptionID int

	// Node holds the changed subtree, addressed from the root
	// (e.g. Status/Audio/Volume).
	Node *Node

	// ReceivedAt is the local receive time.
	ReceivedAt time.Time
}

// EventHandler receives feedback events. It runs on a worker goroutine,
// never on the transport's read loop.
type EventHandler func(Event)

// Subscription is an active feedback registration.
type Subscription interface {
	ID() int
	Close() error
}

// Transport is the capability shared by both XAPI transports.
//
// Implementations must be safe for concurrent use. Close is idempotent and
// may be called from any state, including while Connect is in progress.
type Transport interface {
	Kind() Kind
	Connect(ctx context.Context, creds Credentials) error
	Close() error
	Get(ctx context.Context, path string) (*Node, error)
	Set(ctx context.Context, path, value string) (*Node, error)
	Command(ctx context.Context, name string, params map[string]string) (*Node, error)
	Subscribe(ctx context.Context, pathPrefix string, handler EventHandler) (Subscription, error)

	// SetOnClose registers a callback fired once when the transport loses its
	// channel without Close being called.
	SetOnClose(fn func(error))
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Default timeouts for device communication.
const (
	// defaultHandshakeTimeout bounds the WebSocket upgrade.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// defaultRequestTimeout bounds one HTTPS round-trip when the caller's
	// context has no deadline.
	defaultRequestTimeout = 30 * time.Second

	// eventQueueSize is the buffer size for the feedback event queue.
	eventQueueSize = 100

	// eventWorkerCount is the number of concurrent feedback workers.
	eventWorkerCount = 2

	// maxResponseSize caps how much of a device response is read.
	maxResponseSize = 4 << 20
)

// Options configures transports created by NewTransport.
type Options struct {
	// HandshakeTimeout bounds the streaming handshake. Default: 10s.
	HandshakeTimeout time.Duration

	// RequestTimeout bounds each HTTPS round-trip. Default: 30s.
	RequestTimeout time.Duration

	// StreamingPath is the WebSocket endpoint path. Default: "/ws".
	StreamingPath string

	// StreamingInsecureSkipVerify disables certificate checks on the
	// streaming transport. Off by default so untrusted certificates surface
	// as ErrCertificateUntrusted.
	StreamingInsecureSkipVerify bool

	// HTTPVerifyCertificates turns certificate checks on for the
	// request/response transport. Off by default: devices self-sign.
	HTTPVerifyCertificates bool

	// RootCAs overrides the system pool when certificates are verified.
	RootCAs *x509.CertPool

	// DialContext overrides the network dialer (tests).
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.StreamingPath == "" {
		o.StreamingPath = "/ws"
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

func (o Options) tlsConfig(verify bool) *tls.Config {
	//nolint:gosec // Devices ship self-signed certificates; verification is opt-in.
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            o.RootCAs,
		InsecureSkipVerify: !verify,
	}
}

// NewTransport builds the default implementation for kind.
func NewTransport(kind Kind, opts Options) (Transport, error) {
	switch kind {
	case KindStreaming:
		return NewStreamingTransport(opts), nil
	case KindRequestResponse:
		return NewRequestResponseTransport(opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport kind %q", ErrUnsupported, kind)
	}
}
