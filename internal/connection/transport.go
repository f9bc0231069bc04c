package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/tradovate-stream/internal/version"
)

// Transport is an open, full-duplex text connection.
type Transport interface {
	// Write sends one text frame. Safe for concurrent use.
	Write(data []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// TransportHandler receives inbound transport events.
// OnMessage is called from a single goroutine in arrival order.
// At most one of OnError or OnClose is called, once, and never after Close.
type TransportHandler interface {
	OnMessage(data []byte)
	OnError(err error)
	OnClose()
}

// Dialer opens transports. A successful Dial is the transport-open event.
type Dialer interface {
	Dial(ctx context.Context, url string, handler TransportHandler) (Transport, error)
}

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	Header       http.Header
	ReadTimeout  time.Duration // 0 disables stale detection
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// NewWebSocketDialer creates a dialer using the timeouts in cfg.
func NewWebSocketDialer(cfg ClientConfig, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", version.UserAgent())

	return &WebSocketDialer{
		Header:       header,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
	}
}

// Dial establishes the WebSocket connection and starts its read loop.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, handler TransportHandler) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	t := &wsTransport{
		conn:         conn,
		handler:      handler,
		logger:       d.Logger,
		readTimeout:  d.ReadTimeout,
		writeTimeout: writeTimeout,
		lastSeenAt:   time.Now(),
		done:         make(chan struct{}),
	}

	// Server pings count as inbound traffic; answer with a pong.
	conn.SetPingHandler(func(data string) error {
		t.touch()

		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})

	go t.readLoop()
	if t.readTimeout > 0 {
		go t.watchdog()
	}

	t.logger.Debug("websocket connected", "url", url)

	return t, nil
}

// wsTransport implements Transport over a gorilla connection.
type wsTransport struct {
	conn    *websocket.Conn
	handler TransportHandler
	logger  *slog.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	lastSeenAt time.Time
	closed     bool
	done       chan struct{}

	notifyOnce sync.Once
}

// Write sends a text frame.
func (t *wsTransport) Write(data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close gracefully closes the connection.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	// Signal goroutines to stop
	close(t.done)

	t.writeMu.Lock()
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastSeenAt = time.Now()
	t.mu.Unlock()
}

func (t *wsTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// notify reports a terminal transport event once, unless Close was called.
func (t *wsTransport) notify(err error) {
	if t.isClosed() {
		return
	}
	t.notifyOnce.Do(func() {
		if err == nil {
			t.handler.OnClose()
			return
		}
		t.handler.OnError(err)
	})
}

// readLoop reads frames and hands them to the handler in order.
func (t *wsTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.notify(nil)
			} else {
				t.notify(err)
			}
			return
		}

		t.touch()

		if t.isClosed() {
			return
		}
		t.handler.OnMessage(data)
	}
}

// watchdog pings the server and detects stale connections.
func (t *wsTransport) watchdog() {
	interval := t.readTimeout / 2
	if interval <= 0 {
		interval = t.readTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			deadline := time.Now().Add(t.writeTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}
			t.writeMu.Unlock()

			t.mu.Lock()
			lastSeen := t.lastSeenAt
			t.mu.Unlock()

			if time.Since(lastSeen) > t.readTimeout {
				t.logger.Warn("no inbound traffic, connection stale",
					"last_seen", lastSeen,
					"timeout", t.readTimeout,
				)
				t.notify(ErrStaleConnection)
				t.conn.Close()
				return
			}
		}
	}
}
