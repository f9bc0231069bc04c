package connection

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport records written frames.
type fakeTransport struct {
	mu      sync.Mutex
	closed  bool
	writes  int
	written chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{written: make(chan []byte, 256)}
}

func (t *fakeTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrConnectionClosed
	}
	t.writes++
	t.written <- append([]byte(nil), data...)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

// nextRaw waits for the next written frame.
func (t *fakeTransport) nextRaw(tb testing.TB) []byte {
	tb.Helper()
	select {
	case data := <-t.written:
		return data
	case <-time.After(2 * time.Second):
		tb.Fatal("timeout waiting for frame")
		return nil
	}
}

// next waits for the next request frame and parses it.
func (t *fakeTransport) next(tb testing.TB) request {
	tb.Helper()
	return parseRequest(tb, t.nextRaw(tb))
}

// expectQuiet asserts nothing is written for a short while.
func (t *fakeTransport) expectQuiet(tb testing.TB) {
	tb.Helper()
	select {
	case data := <-t.written:
		tb.Fatalf("unexpected frame %q", data)
	case <-time.After(50 * time.Millisecond):
	}
}

type request struct {
	endpoint string
	id       uint64
	query    string
	body     string
}

func parseRequest(tb testing.TB, data []byte) request {
	tb.Helper()
	parts := strings.SplitN(string(data), "\n", 4)
	require.Len(tb, parts, 4, "frame %q", data)
	id, err := strconv.ParseUint(parts[1], 10, 64)
	require.NoError(tb, err)
	return request{endpoint: parts[0], id: id, query: parts[2], body: parts[3]}
}

// fakeDialer hands out a fakeTransport and keeps the handler for injecting
// inbound frames.
type fakeDialer struct {
	transport *fakeTransport
	err       error
	block     bool

	mu      sync.Mutex
	handler TransportHandler
	dials   int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{transport: newFakeTransport()}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, h TransportHandler) (Transport, error) {
	d.mu.Lock()
	d.handler = h
	d.dials++
	d.mu.Unlock()

	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// push delivers an inbound frame as the transport would.
func (d *fakeDialer) push(frame string) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	h.OnMessage([]byte(frame))
}

func (d *fakeDialer) fail(err error) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	h.OnError(err)
}

func testConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 0
	return cfg
}

func waitErr(tb testing.TB, ch <-chan error) error {
	tb.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		tb.Fatal("timeout waiting for result")
		return nil
	}
}

// connectReady returns a Ready client whose authorize request used id 1.
func connectReady(tb testing.TB, cfg ClientConfig) (*Client, *fakeDialer) {
	tb.Helper()
	d := newFakeDialer()
	c := NewClient(cfg, nil, WithDialer(d))

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Connect(context.Background(), "wss://md.example.com/v1/websocket", "token-T")
	}()

	req := d.transport.next(tb)
	require.Equal(tb, "authorize", req.endpoint)
	d.push(`a[{"i":` + strconv.FormatUint(req.id, 10) + `,"s":200}]`)

	require.NoError(tb, waitErr(tb, errCh))
	return c, d
}

// waitPushes waits until every queued push has been delivered.
func waitPushes(tb testing.TB, c *Client) {
	tb.Helper()
	require.Eventually(tb, func() bool { return c.pushes.len() == 0 }, 2*time.Second, time.Millisecond)
}
