package xapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// JSON-RPC method names used by the streaming transport.
const (
	methodGet         = "xGet"
	methodSet         = "xSet"
	methodCommand     = "xCommand"
	methodSubscribe   = "xFeedback/Subscribe"
	methodUnsubscribe = "xFeedback/Unsubscribe"
	methodEvent       = "xFeedback/Event"

	jsonRPCVersion = "2.0"

	// authSubprotocolPrefix carries the credentials in the handshake.
	authSubprotocolPrefix = "auth-"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is a request waiting for its response. hook, when set, runs
// on the read loop before the caller is woken, so state it installs is in
// place before any later frame is processed.
type pendingCall struct {
	ch   chan rpcResult
	hook func(json.RawMessage) error
}

type queuedEvent struct {
	handler EventHandler
	event   Event
}

// Ensure StreamingTransport implements Transport.
var _ Transport = (*StreamingTransport)(nil)

// StreamingTransport is the persistent XAPI channel: a WebSocket at
// wss://<host>/ws carrying JSON-RPC 2.0.
//
// Authentication happens once, in the handshake: the credentials are sent
// as the "auth-<base64url(user:pass)>" sub-protocol rather than an
// Authorization header.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - A single read loop routes responses to callers by request id.
//   - Feedback handlers run on a bounded worker pool, never on the read
//     loop. When the queue is full events are dropped and counted.
//
// A transport is single-use: after Close (or a lost channel) a new one
// must be created.
type StreamingTransport struct {
	opts Options

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]*pendingCall
	subs    map[int]EventHandler
	nextID  int64
	closed  bool
	onClose func(error)

	// writeMu serialises frame writes; gorilla allows one writer at a time.
	writeMu sync.Mutex

	done       *closeOnce
	readWG     sync.WaitGroup
	eventQueue chan queuedEvent

	eventsRx      atomic.Uint64
	eventsDropped atomic.Uint64
}

// NewStreamingTransport creates an unconnected streaming transport.
func NewStreamingTransport(opts Options) *StreamingTransport {
	return &StreamingTransport{
		opts:       opts.withDefaults(),
		pending:    make(map[int64]*pendingCall),
		subs:       make(map[int]EventHandler),
		done:       newCloseOnce(),
		eventQueue: make(chan queuedEvent, eventQueueSize),
	}
}

// Kind implements Transport.
func (t *StreamingTransport) Kind() Kind {
	return KindStreaming
}

// Connect performs the authenticated WebSocket handshake.
//
// Errors:
//   - ErrAuthFailed: handshake rejected with 401/403
//   - ErrCertificateUntrusted: TLS verification failed
//   - ErrProtocol: any other handshake failure (not a WebSocket endpoint)
//   - ErrUnreachable: dial failure or cancelled context
//   - ErrNotConnected: Close was called while the handshake was running
func (t *StreamingTransport) Connect(ctx context.Context, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("%w: transport closed", ErrNotConnected)
	}
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	u := url.URL{Scheme: "wss", Host: creds.Host, Path: t.opts.StreamingPath}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		NetDialContext:   t.opts.DialContext,
		HandshakeTimeout: t.opts.HandshakeTimeout,
		TLSClientConfig:  t.opts.tlsConfig(!t.opts.StreamingInsecureSkipVerify),
		Subprotocols:     []string{authSubprotocol(creds)},
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return classifyHandshakeError(resp, err)
	}

	t.mu.Lock()
	if t.closed {
		// Close won the race: the caller no longer wants this channel.
		t.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: transport closed during handshake", ErrNotConnected)
	}
	t.conn = conn
	t.mu.Unlock()

	for range eventWorkerCount {
		go t.eventWorker()
	}
	t.readWG.Add(1)
	go t.readLoop(conn)

	t.opts.Logger.Debug("streaming transport connected", "url", u.String())
	return nil
}

// authSubprotocol encodes credentials as a handshake sub-protocol token.
func authSubprotocol(creds Credentials) string {
	raw := creds.Username + ":" + creds.Password
	return authSubprotocolPrefix + base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// classifyHandshakeError maps a failed upgrade to the error taxonomy.
func classifyHandshakeError(resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: handshake rejected (%d)", ErrAuthFailed, resp.StatusCode)
		default:
			return fmt.Errorf("%w: handshake failed with status %d", ErrProtocol, resp.StatusCode)
		}
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return classifyDialError(err)
}

// Close tears the channel down and fails pending calls. Idempotent; safe
// to call while Connect is in progress.
func (t *StreamingTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	pending := t.pending
	t.pending = make(map[int64]*pendingCall)
	t.subs = make(map[int]EventHandler)
	t.mu.Unlock()

	t.done.Close()
	for _, pc := range pending {
		pc.ch <- rpcResult{err: fmt.Errorf("%w: transport closed", ErrNotConnected)}
	}

	if conn != nil {
		t.writeMu.Lock()
		//nolint:errcheck // Best-effort close frame; the socket is closed next.
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		conn.Close()
	}

	t.readWG.Wait()
	return nil
}

// SetOnClose implements Transport. The callback runs on its own goroutine.
func (t *StreamingTransport) SetOnClose(fn func(error)) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

// Get reads a Status or Configuration subtree.
func (t *StreamingTransport) Get(ctx context.Context, path string) (*Node, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty get path", ErrProtocol)
	}
	result, err := t.call(ctx, methodGet, map[string]any{"Path": segs})
	if err != nil {
		return nil, err
	}
	return DecodeJSON(segs, result)
}

// Set writes a configuration value.
func (t *StreamingTransport) Set(ctx context.Context, path, value string) (*Node, error) {
	segs := trimRoot(splitPath(path), "Configuration")
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty configuration path", ErrProtocol)
	}
	segs = append([]string{"Configuration"}, segs...)
	if _, err := t.call(ctx, methodSet, map[string]any{"Path": segs, "Value": value}); err != nil {
		return nil, err
	}
	return NewObject(""), nil
}

// Command executes an XAPI command. The result is placed under
// Command/<Name>Result so it is addressed like the XML response.
func (t *StreamingTransport) Command(ctx context.Context, name string, params map[string]string) (*Node, error) {
	segs := trimRoot(splitPath(name), "Command")
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty command name", ErrProtocol)
	}
	args := make(map[string]any, len(params))
	for k, v := range params {
		args[k] = v
	}
	result, err := t.call(ctx, methodCommand+"/"+strings.Join(segs, "/"), args)
	if err != nil {
		return nil, err
	}
	node, err := DecodeJSON([]string{"Command", commandResultName(name)}, result)
	if err != nil {
		return nil, err
	}
	if err := commandResultError(node, name); err != nil {
		return nil, err
	}
	return node, nil
}

// feedbackSubscription is an active xFeedback registration.
type feedbackSubscription struct {
	id int
	t  *StreamingTransport
}

func (s *feedbackSubscription) ID() int {
	return s.id
}

// Close unregisters the handler and tells the device to stop sending.
func (s *feedbackSubscription) Close() error {
	s.t.mu.Lock()
	_, ok := s.t.subs[s.id]
	delete(s.t.subs, s.id)
	s.t.mu.Unlock()
	if !ok {
		return nil
	}

	return s.t.unsubscribe(s.id)
}

// unsubscribe tells the device to stop sending feedback for id.
func (t *StreamingTransport) unsubscribe(id int) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	_, err := t.call(ctx, methodUnsubscribe, map[string]any{"Id": id})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Subscribe registers handler for feedback under pathPrefix
// (e.g. "Status/Audio").
func (t *StreamingTransport) Subscribe(ctx context.Context, pathPrefix string, handler EventHandler) (Subscription, error) {
	segs := splitPath(pathPrefix)
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty feedback path", ErrProtocol)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: nil feedback handler", ErrProtocol)
	}

	// registered and abandoned are guarded by t.mu. The reply can arrive
	// after the caller gave up; whichever side runs second undoes the
	// device-side subscription.
	var (
		id         int
		registered bool
		abandoned  bool
	)
	register := func(result json.RawMessage) error {
		var reply struct {
			ID int `json:"Id"`
		}
		if err := json.Unmarshal(result, &reply); err != nil {
			return fmt.Errorf("%w: decoding subscribe reply: %w", ErrProtocol, err)
		}
		t.mu.Lock()
		if abandoned {
			t.mu.Unlock()
			// The read loop must not wait on its own response.
			go t.unsubscribe(reply.ID) //nolint:errcheck // best effort
			return nil
		}
		id = reply.ID
		registered = true
		t.subs[reply.ID] = handler
		t.mu.Unlock()
		return nil
	}

	params := map[string]any{"Query": segs, "NotifyCurrentValue": false}
	if _, err := t.callWithHook(ctx, methodSubscribe, params, register); err != nil {
		t.mu.Lock()
		abandoned = true
		undo := registered
		if undo {
			delete(t.subs, id)
		}
		t.mu.Unlock()
		if undo {
			t.unsubscribe(id) //nolint:errcheck // best effort
		}
		return nil, err
	}

	t.mu.Lock()
	sub := &feedbackSubscription{id: id, t: t}
	t.mu.Unlock()
	return sub, nil
}

// EventStats returns the number of received and dropped feedback events.
func (t *StreamingTransport) EventStats() (received, dropped uint64) {
	return t.eventsRx.Load(), t.eventsDropped.Load()
}

// call sends one JSON-RPC request and waits for its response.
func (t *StreamingTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return t.callWithHook(ctx, method, params, nil)
}

func (t *StreamingTransport) callWithHook(ctx context.Context, method string, params any, hook func(json.RawMessage) error) (json.RawMessage, error) {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	t.nextID++
	id := t.nextID
	ch := make(chan rpcResult, 1)
	t.pending[id] = &pendingCall{ch: ch, hook: hook}
	t.mu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	err := conn.SetWriteDeadline(deadline)
	if err == nil {
		err = conn.WriteJSON(rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	}
	t.writeMu.Unlock()
	if err != nil {
		t.forget(id)
		return nil, fmt.Errorf("%w: writing %s: %w", ErrUnreachable, method, err)
	}

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		t.forget(id)
		return nil, fmt.Errorf("xapi: %s abandoned: %w", method, ctx.Err())
	case <-t.done.Done():
		// Pending calls are failed before done closes; prefer that error.
		select {
		case r := <-ch:
			return r.result, r.err
		default:
		}
		t.forget(id)
		return nil, fmt.Errorf("%w: transport closed", ErrNotConnected)
	}
}

func (t *StreamingTransport) forget(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// readLoop reads frames until the connection fails or is closed.
func (t *StreamingTransport) readLoop(conn *websocket.Conn) {
	defer t.readWG.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(conn, err)
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.opts.Logger.Warn("discarding malformed frame", "error", err)
			continue
		}

		switch {
		case msg.ID != nil:
			t.resolve(*msg.ID, msg)
		case msg.Method == methodEvent:
			t.handleEvent(msg.Params)
		default:
			t.opts.Logger.Debug("ignoring unsolicited frame", "method", msg.Method)
		}
	}
}

// resolve hands a response to the waiting caller.
func (t *StreamingTransport) resolve(id int64, msg rpcMessage) {
	t.mu.Lock()
	pc, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if !ok {
		return
	}

	if msg.Error != nil {
		pc.ch <- rpcResult{err: &OpError{Code: msg.Error.Code, Body: msg.Error.Message}}
		return
	}
	if pc.hook != nil {
		if err := pc.hook(msg.Result); err != nil {
			pc.ch <- rpcResult{err: err}
			return
		}
	}
	pc.ch <- rpcResult{result: msg.Result}
}

// handleEvent decodes a feedback notification and queues it for the
// worker pool (non-blocking, drop on overflow).
func (t *StreamingTransport) handleEvent(params json.RawMessage) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(params, &fields); err != nil {
		t.opts.Logger.Warn("discarding malformed feedback event", "error", err)
		return
	}

	var id int
	if raw, ok := fields["Id"]; ok {
		//nolint:errcheck // A missing or non-numeric id leaves id=0, which matches no handler.
		json.Unmarshal(raw, &id)
		delete(fields, "Id")
	}

	t.mu.Lock()
	handler := t.subs[id]
	t.mu.Unlock()
	if handler == nil {
		return
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return
	}
	node, err := DecodeJSON(nil, body)
	if err != nil {
		t.opts.Logger.Warn("discarding undecodable feedback event", "error", err)
		return
	}

	t.eventsRx.Add(1)
	select {
	case t.eventQueue <- queuedEvent{handler: handler, event: Event{SubscriptionID: id, Node: node, ReceivedAt: time.Now()}}:
	default:
		t.eventsDropped.Add(1)
		t.opts.Logger.Warn("feedback queue full, dropping event", "subscription", id)
	}
}

// eventWorker delivers queued events until the transport closes.
func (t *StreamingTransport) eventWorker() {
	for {
		select {
		case <-t.done.Done():
			return
		case qe := <-t.eventQueue:
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.opts.Logger.Error("feedback handler panic", "panic", r)
					}
				}()
				qe.handler(qe.event)
			}()
		}
	}
}

// handleReadError fails pending calls and reports the lost channel.
func (t *StreamingTransport) handleReadError(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		// Close already took the connection down.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.closed = true
	pending := t.pending
	t.pending = make(map[int64]*pendingCall)
	onClose := t.onClose
	t.mu.Unlock()

	lost := fmt.Errorf("%w: channel lost: %w", ErrUnreachable, err)
	for _, pc := range pending {
		pc.ch <- rpcResult{err: lost}
	}

	t.done.Close()
	conn.Close()

	t.opts.Logger.Warn("streaming channel lost", "error", err)
	if onClose != nil {
		go onClose(lost)
	}
}
