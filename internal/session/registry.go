package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/roomlink-core/internal/xapi"
)

// closeConcurrency bounds parallel disconnects during Close.
const closeConcurrency = 8

type entry struct {
	session *Session
	seq     uint64
}

// idLock serialises connects for one id. It is dropped from the registry
// once nobody holds or waits for it.
type idLock struct {
	sem  chan struct{}
	refs int
}

// Registry maps host-derived ids to sessions.
//
// Connects and disconnects on different ids proceed in parallel; two
// ConnectDevice calls for the same id are serialised, and a waiting call
// gives up when its context ends. Sessions that fail
// to connect stay registered in StateFailed so lookups can tell "never
// requested" (ErrSessionNotFound) from "requested but not connected"
// (ErrNotConnected).
//
// All public methods are thread-safe.
type Registry struct {
	cfg    Config
	logger Logger

	mu       sync.RWMutex
	sessions map[string]*entry
	seq      uint64

	locksMu sync.Mutex
	locks   map[string]*idLock

	listenerMu sync.RWMutex
	listener   func(Projection)
}

// NewRegistry creates an empty registry. cfg is used for every session it
// creates.
func NewRegistry(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*entry),
		locks:    make(map[string]*idLock),
	}
}

// SetLogger sets the logger for the registry and sessions it creates.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
	r.cfg.Logger = logger
}

// SetOnStateChange registers a listener for transitions of every session.
func (r *Registry) SetOnStateChange(fn func(Projection)) {
	r.listenerMu.Lock()
	r.listener = fn
	r.listenerMu.Unlock()
}

func (r *Registry) forward(p Projection) {
	r.listenerMu.RLock()
	fn := r.listener
	r.listenerMu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

// lock takes the per-id connect lock, giving up when ctx ends. The
// returned func releases it.
func (r *Registry) lock(ctx context.Context, id string) (func(), error) {
	r.locksMu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &idLock{sem: make(chan struct{}, 1)}
		r.locks[id] = l
	}
	l.refs++
	r.locksMu.Unlock()

	release := func() {
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.locksMu.Unlock()
	}

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, fmt.Errorf("waiting for connect of %s: %w", id, ctx.Err())
	}
}

// ConnectDevice creates a session for creds and connects it.
//
// An existing session for the same host is disconnected and replaced, so
// the registry never holds two entries for one device. The new session is
// registered before connecting, which lets DisconnectDevice abandon a slow
// connect. On failure the session stays registered in StateFailed and the
// typed connect error is returned alongside its projection.
func (r *Registry) ConnectDevice(ctx context.Context, creds xapi.Credentials) (Projection, error) {
	creds.Host = NormalizeHost(creds.Host)
	if err := creds.Validate(); err != nil {
		return Projection{}, err
	}
	id := DeriveID(creds.Host)

	unlock, err := r.lock(ctx, id)
	if err != nil {
		return Projection{}, err
	}
	defer unlock()

	r.mu.Lock()
	sess := New(creds, r.cfg)
	sess.SetOnStateChange(r.forward)
	old := r.sessions[id]
	r.seq++
	r.sessions[id] = &entry{session: sess, seq: r.seq}
	logger := r.logger
	r.mu.Unlock()

	if old != nil {
		logger.Info("replacing existing session", "session", id)
		old.session.Disconnect()
	}

	err = sess.Connect(ctx)
	return sess.Projection(), err
}

// DisconnectDevice disconnects and removes a session.
func (r *Registry) DisconnectDevice(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.session.Disconnect()
	return nil
}

// Lookup returns a registered session in any state.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e.session, nil
}

// Service returns a connected session. It fails with ErrSessionNotFound
// when the id was never registered and ErrNotConnected when it is
// registered but not connected.
func (r *Registry) Service(id string) (*Session, error) {
	sess, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	return connected(sess)
}

func connected(sess *Session) (*Session, error) {
	if st := sess.State(); st != StateConnected {
		return nil, fmt.Errorf("%w: session %s is %s", ErrNotConnected, sess.ID(), st)
	}
	return sess, nil
}

// current returns the most recently added registered session.
func (r *Registry) current() (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *entry
	for _, e := range r.sessions {
		if latest == nil || e.seq > latest.seq {
			latest = e
		}
	}
	if latest == nil {
		return nil, false
	}
	return latest.session, true
}

// CurrentDevice returns the projection of the most recently added session.
//
// This is a single-device convenience: with several devices registered it
// simply picks the newest one.
func (r *Registry) CurrentDevice() (Projection, bool) {
	sess, ok := r.current()
	if !ok {
		return Projection{}, false
	}
	return sess.Projection(), true
}

// CurrentSession is Service for the current device.
func (r *Registry) CurrentSession() (*Session, error) {
	sess, ok := r.current()
	if !ok {
		return nil, fmt.Errorf("%w: no current device", ErrSessionNotFound)
	}
	return connected(sess)
}

// Resolve returns the connected session for ref, where "" means the
// current device.
func (r *Registry) Resolve(ref string) (*Session, error) {
	if ref == "" {
		return r.CurrentSession()
	}
	return r.Service(ref)
}

// List returns projections of all sessions, oldest first.
func (r *Registry) List() []Projection {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Projection, len(entries))
	for i, e := range entries {
		out[i] = e.session.Projection()
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close disconnects every session concurrently and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e.session)
	}
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(closeConcurrency)
	for _, sess := range sessions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sess.Disconnect()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("closing sessions: %w", err)
	}

	r.logger.Info("session registry closed", "sessions", len(sessions))
	return nil
}
