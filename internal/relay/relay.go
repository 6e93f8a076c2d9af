package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/roomlink-core/internal/audit"
	"github.com/nerrad567/roomlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/roomlink-core/internal/session"
	"github.com/nerrad567/roomlink-core/internal/xapi"
)

const (
	defaultQueueSize = 256
	recordTimeout    = 5 * time.Second
	subscribeTimeout = 10 * time.Second
)

// Publisher sends JSON payloads to a topic. *mqtt.Client implements it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Recorder stores session events. *audit.SQLiteRepository implements it.
type Recorder interface {
	Create(ctx context.Context, e *audit.Event) error
}

// Feed is a connected session that can deliver feedback.
type Feed interface {
	Subscribe(ctx context.Context, pathPrefix string, handler xapi.EventHandler) (xapi.Subscription, error)
}

// Source gives the relay access to live sessions.
type Source interface {
	Feed(id string) (Feed, error)
	List() []session.Projection
}

// RegistrySource adapts a session registry to Source.
type RegistrySource struct {
	Registry *session.Registry
}

// Feed returns the connected session for id.
func (s RegistrySource) Feed(id string) (Feed, error) {
	sess, err := s.Registry.Service(id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns every registered session.
func (s RegistrySource) List() []session.Projection {
	return s.Registry.List()
}

// Logger is the subset of logging.Logger the relay uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Relay. Publisher and Recorder are both optional.
type Options struct {
	Publisher     Publisher
	Recorder      Recorder
	FeedbackPaths []string
	QueueSize     int
	Logger        Logger
}

// FeedbackMessage is the payload published for each device event.
type FeedbackMessage struct {
	SessionID      string     `json:"session_id"`
	SubscriptionID int        `json:"subscription_id"`
	Data           *xapi.Node `json:"data"`
	ReceivedAt     time.Time  `json:"received_at"`
}

// Relay fans session transitions out to the audit store and MQTT.
//
// Handle is registered as the registry's state listener. It only enqueues;
// a single worker records, publishes and manages feedback subscriptions in
// transition order, so a slow broker or disk never stalls a connect.
type Relay struct {
	src    Source
	pub    Publisher
	rec    Recorder
	paths  []string
	logger Logger

	queue     chan session.Projection
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	started   atomic.Bool

	mu   sync.Mutex
	subs map[string][]xapi.Subscription

	handled atomic.Uint64
	dropped atomic.Uint64
}

// New creates a relay. Call Start before registering Handle.
func New(src Source, opts Options) *Relay {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Relay{
		src:    src,
		pub:    opts.Publisher,
		rec:    opts.Recorder,
		paths:  opts.FeedbackPaths,
		logger: opts.Logger,
		queue:  make(chan session.Projection, opts.QueueSize),
		done:   make(chan struct{}),
		subs:   make(map[string][]xapi.Subscription),
	}
}

// Start launches the worker. It is a no-op after the first call.
func (r *Relay) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.run()
}

// Handle enqueues a transition. When the queue is full the transition is
// dropped and counted.
func (r *Relay) Handle(p session.Projection) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.queue <- p:
	default:
		r.dropped.Add(1)
		r.logger.Warn("relay queue full, transition dropped", "session", p.ID, "state", p.State)
	}
}

// Resync republishes every session's retained state. Register it as the
// MQTT client's OnConnect callback so a restarted broker is repopulated.
func (r *Relay) Resync() {
	if r.pub == nil {
		return
	}
	for _, p := range r.src.List() {
		r.publishState(p)
	}
}

// Stats returns the number of transitions handled and dropped.
func (r *Relay) Stats() (handled, dropped uint64) {
	return r.handled.Load(), r.dropped.Load()
}

// Close drains queued transitions, stops the worker and closes feedback
// subscriptions.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		r.mu.Lock()
		subs := r.subs
		r.subs = make(map[string][]xapi.Subscription)
		r.mu.Unlock()
		for _, list := range subs {
			closeAll(list)
		}
	})
}

func (r *Relay) run() {
	defer r.wg.Done()
	for {
		select {
		case p := <-r.queue:
			r.process(p)
		case <-r.done:
			for {
				select {
				case p := <-r.queue:
					r.process(p)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) process(p session.Projection) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("relay panic recovered", "session", p.ID, "panic", rec)
		}
	}()
	r.handled.Add(1)

	r.record(p)
	r.publishState(p)

	// Any transition ends the previous connection's subscriptions.
	r.dropSubscriptions(p.ID)
	if p.State == session.StateConnected && p.Transport == xapi.KindStreaming {
		r.subscribe(p)
	}
}

func (r *Relay) record(p session.Projection) {
	if r.rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	e := EventFromProjection(p)
	if err := r.rec.Create(ctx, &e); err != nil {
		r.logger.Error("recording session event failed", "session", p.ID, "error", err)
	}
}

func (r *Relay) publishState(p session.Projection) {
	if r.pub == nil {
		return
	}
	if err := r.pub.PublishJSON(mqtt.Topics{}.SessionState(p.ID), p, true); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		r.logger.Warn("publishing session state failed", "session", p.ID, "error", err)
	}
}

func (r *Relay) subscribe(p session.Projection) {
	if r.pub == nil || len(r.paths) == 0 {
		return
	}
	feed, err := r.src.Feed(p.ID)
	if err != nil {
		// Already gone again; a later transition will follow.
		r.logger.Debug("session not available for feedback", "session", p.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	topic := mqtt.Topics{}.SessionEvent(p.ID)
	var subs []xapi.Subscription
	for _, path := range r.paths {
		sub, err := feed.Subscribe(ctx, path, func(ev xapi.Event) {
			msg := FeedbackMessage{
				SessionID:      p.ID,
				SubscriptionID: ev.SubscriptionID,
				Data:           ev.Node,
				ReceivedAt:     ev.ReceivedAt,
			}
			if err := r.pub.PublishJSON(topic, msg, false); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
				r.logger.Warn("publishing feedback failed", "session", p.ID, "error", err)
			}
		})
		if err != nil {
			r.logger.Warn("feedback subscribe failed", "session", p.ID, "path", path, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		return
	}

	r.mu.Lock()
	r.subs[p.ID] = subs
	r.mu.Unlock()
	r.logger.Info("feedback relayed", "session", p.ID, "paths", len(subs))
}

func (r *Relay) dropSubscriptions(id string) {
	r.mu.Lock()
	subs := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	closeAll(subs)
}

func closeAll(subs []xapi.Subscription) {
	for _, s := range subs {
		if s != nil {
			_ = s.Close() //nolint:errcheck // transport may already be gone
		}
	}
}

// EventFromProjection maps a transition onto an audit row.
func EventFromProjection(p session.Projection) audit.Event {
	return audit.Event{
		SessionID: p.ID,
		Host:      p.Host,
		State:     p.State.String(),
		Transport: string(p.Transport),
		ErrorKind: string(p.ErrorKind),
		Message:   p.LastError,
	}
}
