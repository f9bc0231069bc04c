package config

import (
	"fmt"
	"time"

	"github.com/rickgao/tradovate-stream/internal/connection"
)

// StreamConfig is the root configuration for a stream client process.
type StreamConfig struct {
	API           APIConfig           `yaml:"api"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Database      DBConfig            `yaml:"database"`
	Recorder      RecorderConfig      `yaml:"recorder"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
}

// APIConfig holds endpoint and credential settings.
type APIConfig struct {
	WSURL      string `yaml:"ws_url"`      // Trading socket
	MDURL      string `yaml:"md_url"`      // Market data socket
	Token      string `yaml:"token"`       // Access token, takes precedence over TokenFile
	TokenFile  string `yaml:"token_file"`  // Saved access token response (JSON)
	MarketData bool   `yaml:"market_data"` // Use mdAccessToken from TokenFile
}

// Socket names accepted by SocketURL.
const (
	SocketMarketData = "md"
	SocketTrading    = "trading"
)

// SocketURL returns the URL of the named socket. An empty name selects
// market data.
func (a APIConfig) SocketURL(socket string) (string, error) {
	switch socket {
	case SocketMarketData, "":
		return a.MDURL, nil
	case SocketTrading:
		return a.WSURL, nil
	default:
		return "", fmt.Errorf("unknown socket %q, want %q or %q", socket, SocketMarketData, SocketTrading)
	}
}

// ConnectionConfig holds protocol client settings.
type ConnectionConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	RequestRate       float64       `yaml:"request_rate"`
	RequestBurst      int           `yaml:"request_burst"`
}

// ClientConfig converts to the connection package's configuration.
func (c ConnectionConfig) ClientConfig() connection.ClientConfig {
	return connection.ClientConfig{
		ConnectTimeout:    c.ConnectTimeout,
		RequestTimeout:    c.RequestTimeout,
		HeartbeatInterval: c.HeartbeatInterval,
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		RequestRate:       c.RequestRate,
		RequestBurst:      c.RequestBurst,
	}
}

// DBConfig holds the optional Postgres connection used by the recorder.
// Recording is disabled when Host is empty.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// RecorderConfig holds push recorder batching settings.
type RecorderConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// SubscriptionsConfig lists the feeds to open after connecting.
type SubscriptionsConfig struct {
	QuoteEndpoint string   `yaml:"quote_endpoint"`
	Quotes        []string `yaml:"quotes"`
}
