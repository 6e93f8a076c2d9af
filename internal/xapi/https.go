package xapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HTTP endpoints exposed by XAPI devices.
const (
	getXMLPath = "/getxml"
	putXMLPath = "/putxml"
)

// Ensure RequestResponseTransport implements Transport.
var _ Transport = (*RequestResponseTransport)(nil)

// RequestResponseTransport talks to a device with one HTTPS round-trip per
// operation: GET /getxml?location=/<path> for reads and POST /putxml with a
// small XML document for configuration writes and commands.
//
// Every request carries an HTTP Basic Authorization header. Certificate
// validation is relaxed unless Options.HTTPVerifyCertificates is set,
// because room devices commonly run with self-issued certificates.
// Redirects are never followed.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Close cancels every in-flight request.
type RequestResponseTransport struct {
	opts   Options
	client *http.Client

	mu      sync.RWMutex
	creds   Credentials
	baseURL string
	ready   bool

	// life is cancelled by Close so pending requests are abandoned.
	life   context.Context
	cancel context.CancelFunc
}

// NewRequestResponseTransport creates an unconnected HTTPS transport.
func NewRequestResponseTransport(opts Options) *RequestResponseTransport {
	opts = opts.withDefaults()

	dial := opts.DialContext
	if dial == nil {
		dial = (&net.Dialer{Timeout: opts.HandshakeTimeout}).DialContext
	}

	httpTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dial,
		TLSClientConfig:     opts.tlsConfig(opts.HTTPVerifyCertificates),
		TLSHandshakeTimeout: opts.HandshakeTimeout,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &RequestResponseTransport{
		opts: opts,
		client: &http.Client{
			Transport: httpTransport,
			Timeout:   opts.RequestTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Kind implements Transport.
func (t *RequestResponseTransport) Kind() Kind {
	return KindRequestResponse
}

// Connect records the credentials. There is no persistent channel, so the
// first real request (the session's identity fetch) is what proves
// reachability and authentication.
func (t *RequestResponseTransport) Connect(ctx context.Context, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	t.life, t.cancel = context.WithCancel(context.Background())
	t.creds = creds
	t.baseURL = "https://" + creds.Host
	t.ready = true
	return nil
}

// Close abandons pending requests and forgets the credentials. Idempotent.
func (t *RequestResponseTransport) Close() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.ready = false
	t.creds = Credentials{}
	t.mu.Unlock()

	t.client.CloseIdleConnections()
	return nil
}

// SetOnClose implements Transport. A request/response transport has no
// channel to lose, so the callback is never fired.
func (t *RequestResponseTransport) SetOnClose(func(error)) {}

// Get reads a Status or Configuration subtree.
func (t *RequestResponseTransport) Get(ctx context.Context, path string) (*Node, error) {
	segs := splitPath(path)
	if len(segs) == 0 || !xmlRoots[segs[0]] || segs[0] == "Command" || segs[0] == "Event" {
		return nil, fmt.Errorf("%w: get path must start with Status or Configuration: %q", ErrProtocol, path)
	}

	escaped := make([]string, len(segs))
	for i, s := range segs {
		escaped[i] = url.PathEscape(s)
	}
	return t.do(ctx, http.MethodGet, getXMLPath+"?location=/"+strings.Join(escaped, "/"), nil)
}

// Set writes a configuration value.
func (t *RequestResponseTransport) Set(ctx context.Context, path, value string) (*Node, error) {
	body, err := EncodeConfigurationXML(path, value)
	if err != nil {
		return nil, err
	}
	return t.do(ctx, http.MethodPost, putXMLPath, body)
}

// Command executes an XAPI command. A result element carrying
// status="Error" is reported as an *OpError with the device's reason.
func (t *RequestResponseTransport) Command(ctx context.Context, name string, params map[string]string) (*Node, error) {
	body, err := EncodeCommandXML(name, params)
	if err != nil {
		return nil, err
	}
	node, err := t.do(ctx, http.MethodPost, putXMLPath, body)
	if err != nil {
		return nil, err
	}
	if err := commandResultError(node, name); err != nil {
		return nil, err
	}
	return node, nil
}

// Subscribe is not available without a push channel.
func (t *RequestResponseTransport) Subscribe(context.Context, string, EventHandler) (Subscription, error) {
	return nil, ErrUnsupported
}

// do performs one authenticated round-trip and decodes the XML body.
func (t *RequestResponseTransport) do(ctx context.Context, method, target string, body []byte) (*Node, error) {
	t.mu.RLock()
	ready, creds, base, life := t.ready, t.creds, t.baseURL, t.life
	t.mu.RUnlock()

	if !ready {
		return nil, ErrNotConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrProtocol, err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Accept", "text/xml")
	if body != nil {
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if life.Err() != nil {
			return nil, fmt.Errorf("%w: transport closed", ErrNotConnected)
		}
		return nil, classifyDialError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: device returned 401", ErrAuthFailed)
	case resp.StatusCode == http.StatusFound:
		return nil, fmt.Errorf("%w: endpoint requires session, redirected to login", ErrProtocol)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &OpError{Code: resp.StatusCode, Body: string(data)}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return NewObject(""), nil
	}
	return DecodeXML(bytes.NewReader(data))
}

// commandResultError inspects Command/<Name>Result for status="Error".
func commandResultError(node *Node, name string) error {
	result, ok := node.Lookup("Command/" + commandResultName(name))
	if !ok {
		return nil
	}
	status := result.Attr("status")
	if status == "" {
		status = result.TextOr("status", "")
	}
	if !strings.EqualFold(status, "Error") {
		return nil
	}
	reason := result.TextOr("Reason", "")
	if reason == "" {
		reason = result.TextOr("Error", "command failed")
	}
	return &OpError{Code: http.StatusOK, Body: reason}
}
