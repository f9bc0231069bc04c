package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSURL             = "wss://demo.tradovateapi.com/v1/websocket"
	DefaultMDURL             = "wss://md-demo.tradovateapi.com/v1/websocket"
	DefaultConnectTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 2500 * time.Millisecond
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 10000
	DefaultQuoteEndpoint     = "md/subscribeQuote"
)

func (c *StreamConfig) applyDefaults() {
	// API defaults
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.MDURL == "" {
		c.API.MDURL = DefaultMDURL
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.ReadTimeout == 0 {
		c.Connection.ReadTimeout = DefaultReadTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.RequestRate > 0 && c.Connection.RequestBurst == 0 {
		c.Connection.RequestBurst = 1
	}

	// Database defaults, only when recording is enabled
	if c.Database.Enabled() {
		applyDBDefaults(&c.Database)
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	if c.Subscriptions.QuoteEndpoint == "" {
		c.Subscriptions.QuoteEndpoint = DefaultQuoteEndpoint
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
