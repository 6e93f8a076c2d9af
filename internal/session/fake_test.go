package session

import (
	"context"
	"sync"

	"github.com/nerrad567/roomlink-core/internal/xapi"
)

// fakeTransport is a scripted xapi.Transport.
type fakeTransport struct {
	kind       xapi.Kind
	connectErr error
	getErr     error
	identity   *xapi.Node

	// connectGate, when set, makes Connect wait until it is closed or ctx ends.
	connectGate chan struct{}
	// blockGets makes Get wait for ctx cancellation.
	blockGets bool

	mu      sync.Mutex
	closed  bool
	gets    []string
	onClose func(error)
}

func identityNode(product string) *xapi.Node {
	unit := xapi.NewObject("SystemUnit")
	unit.Append(xapi.NewScalar("ProductId", product))
	return xapi.Wrap([]string{"Status", "SystemUnit"}, unit)
}

func (f *fakeTransport) Kind() xapi.Kind { return f.kind }

func (f *fakeTransport) Connect(ctx context.Context, _ xapi.Credentials) error {
	if f.connectGate != nil {
		select {
		case <-f.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.connectErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) Get(ctx context.Context, path string) (*xapi.Node, error) {
	f.mu.Lock()
	f.gets = append(f.gets, path)
	closed := f.closed
	f.mu.Unlock()

	if closed {
		return nil, xapi.ErrNotConnected
	}
	if f.blockGets && path != DefaultIdentityPath {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.identity != nil {
		return f.identity, nil
	}
	return identityNode("Fake Codec"), nil
}

func (f *fakeTransport) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gets)
}

func (f *fakeTransport) Set(context.Context, string, string) (*xapi.Node, error) {
	return xapi.NewObject(""), nil
}

func (f *fakeTransport) Command(_ context.Context, name string, _ map[string]string) (*xapi.Node, error) {
	return xapi.Wrap([]string{"Command", name + "Result"}, xapi.NewObject("")), nil
}

func (f *fakeTransport) Subscribe(context.Context, string, xapi.EventHandler) (xapi.Subscription, error) {
	if f.kind == xapi.KindRequestResponse {
		return nil, xapi.ErrUnsupported
	}
	return nil, nil
}

func (f *fakeTransport) SetOnClose(fn func(error)) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

// drop simulates the device closing the channel.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// fakeFactory hands out preconfigured transports per kind and records what
// was created.
type fakeFactory struct {
	mu      sync.Mutex
	build   map[xapi.Kind]func() *fakeTransport
	created []*fakeTransport
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		build: map[xapi.Kind]func() *fakeTransport{
			xapi.KindStreaming:       func() *fakeTransport { return &fakeTransport{kind: xapi.KindStreaming} },
			xapi.KindRequestResponse: func() *fakeTransport { return &fakeTransport{kind: xapi.KindRequestResponse} },
		},
	}
}

func (f *fakeFactory) with(kind xapi.Kind, build func(*fakeTransport)) *fakeFactory {
	f.build[kind] = func() *fakeTransport {
		t := &fakeTransport{kind: kind}
		build(t)
		return t
	}
	return f
}

func (f *fakeFactory) New(kind xapi.Kind) (xapi.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.build[kind]()
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeFactory) transports() []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeTransport, len(f.created))
	copy(out, f.created)
	return out
}

func testConfig(f *fakeFactory) Config {
	return Config{Factory: f.New}
}

var testCreds = xapi.Credentials{Host: "codec.example.com", Username: "admin", Password: "s3cr3t-pw"}
