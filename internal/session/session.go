package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/roomlink-core/internal/normalize"
	"github.com/nerrad567/roomlink-core/internal/xapi"
)

// Logger defines the logging interface used by sessions and the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Defaults for Config.
const (
	DefaultIdentityPath   = "Status/SystemUnit"
	DefaultConnectTimeout = 20 * time.Second
)

// TransportFactory creates an unconnected transport of the given kind.
type TransportFactory func(kind xapi.Kind) (xapi.Transport, error)

// Config controls how sessions connect.
type Config struct {
	// TransportOrder is tried front to back.
	// Default: streaming, then request/response.
	TransportOrder []xapi.Kind

	// IdentityPath is fetched once after a transport is ready.
	IdentityPath string

	// ConnectTimeout bounds one whole connect attempt, fallback included.
	ConnectTimeout time.Duration

	// Factory builds transports. Default: xapi.NewTransport with TransportOptions.
	Factory TransportFactory

	// TransportOptions is passed to the default factory.
	TransportOptions xapi.Options

	Logger Logger
}

func (c Config) withDefaults() Config {
	if len(c.TransportOrder) == 0 {
		c.TransportOrder = []xapi.Kind{xapi.KindStreaming, xapi.KindRequestResponse}
	}
	if c.IdentityPath == "" {
		c.IdentityPath = DefaultIdentityPath
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.Factory == nil {
		opts := c.TransportOptions
		if opts.Logger == nil {
			opts.Logger = c.Logger
		}
		c.Factory = func(kind xapi.Kind) (xapi.Transport, error) {
			return xapi.NewTransport(kind, opts)
		}
	}
	return c
}

// Projection is the externally visible view of a session. It has no
// password field.
type Projection struct {
	ID          string                `json:"id"`
	Host        string                `json:"host"`
	Username    string                `json:"username"`
	State       State                 `json:"state"`
	Transport   xapi.Kind             `json:"transport,omitempty"`
	Device      *normalize.DeviceInfo `json:"device,omitempty"`
	LastError   string                `json:"last_error,omitempty"`
	ErrorKind   xapi.ErrorKind        `json:"error_kind,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	ConnectedAt *time.Time            `json:"connected_at,omitempty"`
}

// attempt is one in-flight Connect. Concurrent callers wait on done.
type attempt struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Session is the connection to one device.
//
// State machine:
//
//	NotConnected ──Connect──▶ Connecting ──ok──▶ Connected
//	     ▲                        │                  │
//	     │                        └──error──▶ Failed │
//	     └──────────── Disconnect / channel lost ────┘
//
// A session exclusively owns its credentials and its active transport.
// All methods are safe for concurrent use.
type Session struct {
	id        string
	creds     xapi.Credentials
	cfg       Config
	logger    Logger
	createdAt time.Time

	mu          sync.Mutex
	state       State
	transport   xapi.Transport
	device      *normalize.DeviceInfo
	lastErr     error
	connectedAt time.Time
	attempt     *attempt

	// generation changes on every Connect and Disconnect. A connect attempt
	// only commits its result if the generation is still its own.
	generation uint64

	// life is cancelled when the connection ends; operations are bound to it.
	life       context.Context
	lifeCancel context.CancelFunc

	onStateChange func(Projection)
}

// New creates a session in StateNotConnected. The host is normalised and
// the id derived from it.
func New(creds xapi.Credentials, cfg Config) *Session {
	creds.Host = NormalizeHost(creds.Host)
	cfg = cfg.withDefaults()
	return &Session{
		id:        DeriveID(creds.Host),
		creds:     creds,
		cfg:       cfg,
		logger:    cfg.Logger,
		createdAt: time.Now().UTC(),
	}
}

// ID returns the host-derived session id.
func (s *Session) ID() string {
	return s.id
}

// Host returns the normalised device host.
func (s *Session) Host() string {
	return s.creds.Host
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TransportKind returns the kind of the active transport, or "" when not
// connected.
func (s *Session) TransportKind() xapi.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return ""
	}
	return s.transport.Kind()
}

// SetOnStateChange registers a callback invoked after every transition.
// It runs on the goroutine that caused the transition.
func (s *Session) SetOnStateChange(fn func(Projection)) {
	s.mu.Lock()
	s.onStateChange = fn
	s.mu.Unlock()
}

// Connect drives the session to StateConnected.
//
// Connecting an already connected session is a no-op. A Connect issued
// while another is in flight waits for that attempt instead of starting a
// second transport. Transports are tried in configured order; the next one
// is tried only when a transport fails to connect with ErrUnreachable or
// ErrProtocol. Once a transport is ready the identity path is fetched; if
// that fails the session becomes StateFailed without trying further
// transports, so bad credentials are never masked by a fallback.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		a := s.attempt
		s.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.generation++
	gen := s.generation
	attemptCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	stop := context.AfterFunc(ctx, cancel)
	a := &attempt{done: make(chan struct{}), cancel: cancel}
	s.attempt = a
	s.state = StateConnecting
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()

	s.logger.Info("connecting to device", "session", s.id, "device", s.creds)
	tr, device, err := s.dial(attemptCtx, gen)
	stop()
	cancel()

	s.mu.Lock()
	if s.generation != gen {
		// Disconnect won; whatever the attempt produced is discarded.
		s.mu.Unlock()
		if tr != nil {
			tr.Close()
		}
		err = fmt.Errorf("%w: connect abandoned by disconnect", ErrNotConnected)
		a.err = err
		close(a.done)
		return err
	}

	s.attempt = nil
	if err != nil {
		s.state = StateFailed
		s.lastErr = err
	} else {
		s.state = StateConnected
		s.transport = tr
		s.device = &device
		s.connectedAt = time.Now().UTC()
		s.life, s.lifeCancel = context.WithCancel(context.Background())
	}
	a.err = err
	close(a.done)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("device connect failed", "session", s.id, "device", s.creds, "kind", xapi.Classify(err), "error", err)
	} else {
		s.logger.Info("device connected", "session", s.id, "transport", tr.Kind(), "model", device.Name)
	}
	s.notify()
	return err
}

// dial walks the transport order and returns the first ready transport
// with the identity it reported.
func (s *Session) dial(ctx context.Context, gen uint64) (xapi.Transport, normalize.DeviceInfo, error) {
	order := s.cfg.TransportOrder
	if len(order) == 0 {
		return nil, normalize.DeviceInfo{}, ErrNoTransports
	}

	for i, kind := range order {
		tr, err := s.cfg.Factory(kind)
		if err != nil {
			return nil, normalize.DeviceInfo{}, err
		}
		tr.SetOnClose(func(err error) { s.handleTransportClosed(gen, tr, err) })

		if err := tr.Connect(ctx, s.creds); err != nil {
			tr.Close()
			last := i == len(order)-1
			if !last && ctx.Err() == nil && canFallback(err) {
				s.logger.Warn("transport unavailable, falling back",
					"session", s.id, "transport", kind, "next", order[i+1], "error", err)
				continue
			}
			return nil, normalize.DeviceInfo{}, err
		}

		node, err := tr.Get(ctx, s.cfg.IdentityPath)
		if err != nil {
			tr.Close()
			return nil, normalize.DeviceInfo{}, fmt.Errorf("fetching device identity: %w", err)
		}
		return tr, normalize.DeviceInfoFrom(node), nil
	}

	// Unreachable: the last transport always returns above.
	return nil, normalize.DeviceInfo{}, ErrNoTransports
}

// canFallback reports whether a connect failure allows trying the next
// transport. Authentication and certificate failures never do.
func canFallback(err error) bool {
	return errors.Is(err, xapi.ErrUnreachable) || errors.Is(err, xapi.ErrProtocol)
}

// Disconnect closes the session. It is idempotent and always ends in
// StateNotConnected. A Connect in flight is abandoned and any transport it
// produces is closed.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.generation++
	tr := s.transport
	a := s.attempt
	lifeCancel := s.lifeCancel
	changed := s.state != StateNotConnected
	s.transport = nil
	s.attempt = nil
	s.lifeCancel = nil
	s.device = nil
	s.lastErr = nil
	s.state = StateNotConnected
	s.mu.Unlock()

	if a != nil {
		a.cancel()
	}
	if lifeCancel != nil {
		lifeCancel()
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			s.logger.Warn("closing transport", "session", s.id, "error", err)
		}
	}
	if changed {
		s.logger.Info("device disconnected", "session", s.id)
		s.notify()
	}
}

// handleTransportClosed moves a connected session to StateNotConnected
// when its transport reports a lost channel.
func (s *Session) handleTransportClosed(gen uint64, tr xapi.Transport, cause error) {
	s.mu.Lock()
	if s.generation != gen || s.transport != tr || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateNotConnected
	s.transport = nil
	s.device = nil
	s.lastErr = cause
	lifeCancel := s.lifeCancel
	s.lifeCancel = nil
	s.mu.Unlock()

	if lifeCancel != nil {
		lifeCancel()
	}
	tr.Close()
	s.logger.Warn("device channel lost", "session", s.id, "error", cause)
	s.notify()
}

// active returns the transport and lifetime for an operation.
func (s *Session) active() (xapi.Transport, context.Context, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.transport == nil {
		return nil, nil, 0, fmt.Errorf("%w: session %s is %s", ErrNotConnected, s.id, s.state)
	}
	return s.transport, s.life, s.generation, nil
}

// run executes op on the active transport with ctx bound to the session
// lifetime, so Disconnect cancels it.
func (s *Session) run(ctx context.Context, op func(context.Context, xapi.Transport) (*xapi.Node, error)) (*xapi.Node, error) {
	tr, life, gen, err := s.active()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	node, err := op(ctx, tr)
	if errors.Is(err, xapi.ErrNotConnected) {
		// The transport lost its channel before telling us.
		s.handleTransportClosed(gen, tr, err)
	}
	return node, err
}

// Get reads a Status or Configuration path.
func (s *Session) Get(ctx context.Context, path string) (*xapi.Node, error) {
	return s.run(ctx, func(ctx context.Context, tr xapi.Transport) (*xapi.Node, error) {
		return tr.Get(ctx, path)
	})
}

// Set writes a configuration value.
func (s *Session) Set(ctx context.Context, path, value string) (*xapi.Node, error) {
	return s.run(ctx, func(ctx context.Context, tr xapi.Transport) (*xapi.Node, error) {
		return tr.Set(ctx, path, value)
	})
}

// Execute runs an XAPI command such as "Bookings List".
func (s *Session) Execute(ctx context.Context, command string, params map[string]string) (*xapi.Node, error) {
	return s.run(ctx, func(ctx context.Context, tr xapi.Transport) (*xapi.Node, error) {
		return tr.Command(ctx, command, params)
	})
}

// Subscribe registers a feedback handler. Request/response transports
// return xapi.ErrUnsupported.
func (s *Session) Subscribe(ctx context.Context, pathPrefix string, handler xapi.EventHandler) (xapi.Subscription, error) {
	tr, _, _, err := s.active()
	if err != nil {
		return nil, err
	}
	return tr.Subscribe(ctx, pathPrefix, handler)
}

// DeviceInfo returns the identity captured when the session connected.
func (s *Session) DeviceInfo() (normalize.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.device == nil {
		return normalize.DeviceInfo{}, fmt.Errorf("%w: session %s is %s", ErrNotConnected, s.id, s.state)
	}
	return *s.device, nil
}

// Err returns the error that caused the last failure or lost channel.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Projection returns the secret-free view of the session.
func (s *Session) Projection() Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectionLocked()
}

func (s *Session) projectionLocked() Projection {
	p := Projection{
		ID:        s.id,
		Host:      s.creds.Host,
		Username:  s.creds.Username,
		State:     s.state,
		CreatedAt: s.createdAt,
	}
	if s.transport != nil {
		p.Transport = s.transport.Kind()
	}
	if s.device != nil {
		d := *s.device
		p.Device = &d
	}
	if s.state == StateConnected {
		t := s.connectedAt
		p.ConnectedAt = &t
	}
	if s.lastErr != nil {
		p.LastError = s.lastErr.Error()
		p.ErrorKind = xapi.Classify(s.lastErr)
	}
	return p
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onStateChange
	p := s.projectionLocked()
	s.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}
