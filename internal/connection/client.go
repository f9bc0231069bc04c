package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/tradovate-stream/internal/protocol"
)

// StatusOK is the success status of a response envelope.
const StatusOK = http.StatusOK

// ClientStats is a point-in-time view of a Client.
type ClientStats struct {
	State         State
	Pending       int
	Subscriptions int
	Listeners     int
	QueuedPushes  int
}

// Client is a single protocol connection.
type Client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	dialer  Dialer
	limiter *rate.Limiter

	// State
	mu        sync.RWMutex
	state     State
	transport Transport
	err       error
	done      chan struct{}

	// Serializes id allocation with the wire write so ids hit the wire in order.
	writeMu sync.Mutex

	pending   *correlator
	listeners *listenerBus
	subs      *subscriptionTable

	// Pushes are delivered off the read goroutine so listeners may call Send.
	pushes *pushQueue
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the default WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// NewClient creates a disconnected Client.
func NewClient(cfg ClientConfig, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	limit, burst := rate.Inf, 0
	if cfg.RequestRate > 0 {
		limit, burst = rate.Limit(cfg.RequestRate), cfg.RequestBurst
		if burst < 1 {
			burst = 1
		}
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		limiter:   rate.NewLimiter(limit, burst),
		state:     StateDisconnected,
		done:      make(chan struct{}),
		pending:   newCorrelator(),
		listeners: newListenerBus(logger),
		subs:      newSubscriptionTable(),
		pushes:    newPushQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebSocketDialer(cfg, logger)
	}
	return c
}

// Connect opens the transport and authorizes with token. It returns once the
// client is Ready, or fails with ErrTimeout, a *ConnectionError or an
// *AuthorizationError. A failed Connect leaves the client Closed.
func (c *Client) Connect(ctx context.Context, url, token string) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
	case StateClosed:
		c.mu.Unlock()
		return ErrAlreadyClosed
	default:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateConnecting
	c.mu.Unlock()

	go c.dispatchLoop()

	var cancel context.CancelFunc
	if c.cfg.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeoutCause(ctx, c.cfg.ConnectTimeout, ErrTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	c.logger.Info("connecting", "url", url)

	t, err := c.dialer.Dial(ctx, url, clientHandler{c})
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		} else {
			err = &ConnectionError{Op: OpDial, Err: err}
		}
		c.shutdown(err)
		return err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		t.Close()
		return c.Err()
	}
	c.transport = t
	c.state = StateAuthorizing
	c.mu.Unlock()

	env, err := c.request(ctx, protocol.AuthorizeEndpoint, func(id uint64) ([]byte, error) {
		return protocol.EncodeAuthorize(id, token), nil
	}, nil)
	if err == nil && env.StatusCode() != StatusOK {
		err = &AuthorizationError{
			Status:  env.StatusCode(),
			Message: payloadMessage(env.Payload),
		}
	}
	if err != nil {
		c.shutdown(err)
		return err
	}

	c.mu.Lock()
	if c.state != StateAuthorizing {
		c.mu.Unlock()
		return c.Err()
	}
	c.state = StateReady
	c.mu.Unlock()

	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(c.cfg.HeartbeatInterval)
	}

	c.logger.Info("connected", "url", url)
	return nil
}

// IsConnected reports whether the client is Ready.
func (c *Client) IsConnected() bool {
	return c.State() == StateReady
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed when the client reaches Closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client closed, or nil while it is open.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Stats returns current statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		State:         c.State(),
		Pending:       c.pending.count(),
		Subscriptions: c.subs.count(),
		Listeners:     c.listeners.count(),
		QueuedPushes:  c.pushes.len(),
	}
}

// Close tears the connection down, rejecting pending requests with
// ErrConnectionClosed. Safe to call repeatedly and from any state.
func (c *Client) Close() error {
	c.shutdown(ErrConnectionClosed)
	return nil
}

// Send issues a request and waits for its response payload.
// A non-200 response returns a *RequestError.
func (c *Client) Send(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.SendWithQuery(ctx, endpoint, "", body)
}

// SendWithQuery is Send with a query string.
func (c *Client) SendWithQuery(ctx context.Context, endpoint, query string, body any) (json.RawMessage, error) {
	env, err := c.send(ctx, endpoint, query, body, nil)
	if err != nil {
		return nil, err
	}
	return env.Payload, nil
}

// send issues a request on a Ready client and checks the response status.
// onSuccess, if set, runs on the read path when a 200 response is routed.
func (c *Client) send(ctx context.Context, endpoint, query string, body any, onSuccess func()) (protocol.Envelope, error) {
	if !c.IsConnected() {
		return protocol.Envelope{}, ErrNotConnected
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	env, err := c.request(ctx, endpoint, func(id uint64) ([]byte, error) {
		return protocol.EncodeRequest(endpoint, id, query, body)
	}, onSuccess)
	if err != nil {
		return protocol.Envelope{}, err
	}

	if env.StatusCode() != StatusOK {
		return env, &RequestError{
			Endpoint: endpoint,
			Status:   env.StatusCode(),
			Message:  payloadMessage(env.Payload),
			Payload:  env.Payload,
		}
	}
	return env, nil
}

// request registers a pending request, writes its frame and waits for the
// matching envelope, the connection closing, or ctx.
func (c *Client) request(ctx context.Context, endpoint string, encode func(id uint64) ([]byte, error), onSuccess func()) (protocol.Envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return protocol.Envelope{}, contextError(ctx, err)
	}

	c.writeMu.Lock()
	p, err := c.pending.register(endpoint, onSuccess)
	if err != nil {
		c.writeMu.Unlock()
		return protocol.Envelope{}, err
	}

	frame, err := encode(p.id)
	if err != nil {
		c.pending.cancel(p.id)
		c.writeMu.Unlock()
		return protocol.Envelope{}, err
	}

	err = c.write(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.pending.cancel(p.id)
		return protocol.Envelope{}, &ConnectionError{Op: OpWrite, Err: err}
	}

	c.logger.Debug("request sent", "endpoint", endpoint, "id", p.id)

	select {
	case r := <-p.done:
		if r.err == nil {
			c.logger.Debug("response received",
				"endpoint", endpoint,
				"id", p.id,
				"status", r.env.StatusCode(),
				"elapsed", time.Since(p.createdAt),
			)
		}
		return r.env, r.err
	case <-ctx.Done():
		if c.pending.cancel(p.id) {
			return protocol.Envelope{}, contextError(ctx, ctx.Err())
		}
		// Completed concurrently; the result is already buffered.
		r := <-p.done
		return r.env, r.err
	}
}

// contextError prefers the cancellation cause, e.g. ErrTimeout during Connect.
func contextError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return err
}

// write sends one frame on the transport. Callers hold writeMu.
func (c *Client) write(frame []byte) error {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()

	if t == nil {
		return ErrNotConnected
	}
	return t.Write(frame)
}

// Subscribe issues a subscribe request. On success onPush receives every push
// payload until the subscription is cancelled or the connection closes.
//
// onPush is registered while the successful response is routed, so it sees
// pushes that follow the response in the same frame and none that precede
// it. A failed subscribe registers nothing.
func (c *Client) Subscribe(ctx context.Context, endpoint string, body any, onPush Listener, opts ...SubscribeOption) (*Subscription, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Written on the read path before the response is delivered to us.
	var handle ListenerHandle
	var onSuccess func()
	if onPush != nil {
		onSuccess = func() {
			handle = c.listeners.add(onPush)
		}
	}

	env, err := c.send(ctx, endpoint, "", body, onSuccess)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		client:      c,
		requestID:   *env.ID,
		endpoint:    endpoint,
		token:       subscriptionToken(env.Payload),
		listener:    handle,
		hasListener: onPush != nil,
		active:      true,
	}

	if o.override {
		sub.unsubscribeEndpoint, sub.unsubscribeBody = o.unsubscribeEndpoint, o.unsubscribeBody
	} else if ep, b, ok := mirrorEndpoint(endpoint, body, sub.token); ok {
		sub.unsubscribeEndpoint, sub.unsubscribeBody = ep, b
	}

	if !c.subs.add(sub) {
		// Closed while the response was in flight.
		sub.deactivate()
		if onPush != nil {
			c.listeners.remove(handle)
		}
	}

	c.logger.Debug("subscribed",
		"endpoint", endpoint,
		"id", sub.requestID,
		"token", sub.token,
	)

	return sub, nil
}

// AddListener registers fn for every push envelope.
func (c *Client) AddListener(fn Listener) ListenerHandle {
	return c.listeners.add(fn)
}

// RemoveListener unregisters a listener. It reports whether h was registered.
func (c *Client) RemoveListener(h ListenerHandle) bool {
	return c.listeners.remove(h)
}

// shutdown moves the client to Closed once, recording cause.
func (c *Client) shutdown(cause error) bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	prev := c.state
	c.state = StateClosed
	c.err = cause
	t := c.transport
	c.mu.Unlock()

	close(c.done)

	if t != nil {
		if err := t.Close(); err != nil {
			c.logger.Debug("transport close error", "error", err)
		}
	}

	rejected := c.pending.rejectAll(cause)
	deactivated := c.subs.deactivateAll()
	removed := c.listeners.clear()
	discarded := c.pushes.close()

	attrs := []any{
		"from", prev,
		"rejected", rejected,
		"subscriptions", deactivated,
		"listeners", removed,
		"discarded_pushes", discarded,
	}
	if errors.Is(cause, ErrConnectionClosed) && !isTransportFailure(cause) {
		c.logger.Info("connection closed", attrs...)
	} else {
		c.logger.Warn("connection closed", append(attrs, "error", cause)...)
	}
	return true
}

func isTransportFailure(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// handleFrame decodes one inbound frame and routes its envelopes.
func (c *Client) handleFrame(data []byte) {
	switch protocol.Classify(data) {
	case protocol.FrameData:
	case protocol.FrameOpen, protocol.FrameHeartbeat:
		return
	case protocol.FrameClose:
		code, reason, _ := protocol.CloseReason(data)
		c.shutdown(&ConnectionError{
			Op:  OpRead,
			Err: fmt.Errorf("%w: %d %s", ErrServerClosed, code, reason),
		})
		return
	default:
		c.logger.Debug("dropping unrecognized frame", "size", len(data))
		return
	}

	envs, err := protocol.DecodeFrame(data)
	if errors.Is(err, protocol.ErrMalformedFrame) {
		c.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		return
	}
	if err != nil {
		c.logger.Warn("dropping malformed envelopes", "error", err, "kept", len(envs))
	}

	for _, env := range envs {
		c.route(env)
	}
}

// route completes the pending request matching env, or queues env as a push
// for the listeners registered at this point in the stream.
func (c *Client) route(env protocol.Envelope) {
	if _, ok := c.pending.resolve(env); ok {
		return
	}

	listeners := c.listeners.snapshot()
	if len(listeners) == 0 {
		return
	}
	c.pushes.put(pushItem{payload: env.Payload, listeners: listeners})
}

// dispatchLoop delivers queued pushes in arrival order until shutdown.
func (c *Client) dispatchLoop() {
	for {
		it, ok := c.pushes.next()
		if !ok {
			return
		}
		c.listeners.deliver(it.listeners, it.payload)
		c.pushes.done()
	}
}

// heartbeatLoop writes the protocol heartbeat until the client closes.
func (c *Client) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.write(protocol.Heartbeat)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send heartbeat", "error", err)
			}
		}
	}
}

// clientHandler adapts transport events to the Client.
type clientHandler struct {
	c *Client
}

func (h clientHandler) OnMessage(data []byte) {
	h.c.handleFrame(data)
}

func (h clientHandler) OnError(err error) {
	h.c.shutdown(&ConnectionError{Op: OpRead, Err: err})
}

func (h clientHandler) OnClose() {
	h.c.shutdown(&ConnectionError{Op: OpRead, Err: ErrServerClosed})
}
