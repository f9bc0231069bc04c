package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
api:
  md_url: wss://md.tradovateapi.com/v1/websocket
  token: abc
connection:
  connect_timeout: 10s
  request_rate: 5
database:
  host: localhost
  port: 5433
  name: ticks
  user: testuser
  password: testpass
subscriptions:
  quotes: [ESZ6, NQZ6]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.MDURL != "wss://md.tradovateapi.com/v1/websocket" {
		t.Errorf("API.MDURL = %q, want %q", cfg.API.MDURL, "wss://md.tradovateapi.com/v1/websocket")
	}
	if cfg.Connection.ConnectTimeout != 10*time.Second {
		t.Errorf("Connection.ConnectTimeout = %v, want %v", cfg.Connection.ConnectTimeout, 10*time.Second)
	}
	if cfg.Database.Port != 5433 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 5433)
	}
	if len(cfg.Subscriptions.Quotes) != 2 || cfg.Subscriptions.Quotes[1] != "NQZ6" {
		t.Errorf("Subscriptions.Quotes = %v, want [ESZ6 NQZ6]", cfg.Subscriptions.Quotes)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_MD_TOKEN", "secret123")

	yaml := `
api:
  token: ${TEST_MD_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Token != "secret123" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "secret123")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("Load error = %v, want read config file error", err)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("api: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("Parse error = %v, want parse error", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
api:
  token: abc
database:
  host: localhost
  name: ticks
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.API.MDURL != DefaultMDURL {
		t.Errorf("API.MDURL = %q, want default %q", cfg.API.MDURL, DefaultMDURL)
	}
	if cfg.Connection.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("Connection.ConnectTimeout = %v, want default %v", cfg.Connection.ConnectTimeout, DefaultConnectTimeout)
	}
	if cfg.Connection.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("Connection.HeartbeatInterval = %v, want default %v", cfg.Connection.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.MaxConns != DefaultMaxConns {
		t.Errorf("Database.MaxConns = %d, want default %d", cfg.Database.MaxConns, DefaultMaxConns)
	}
	if cfg.Recorder.BatchSize != DefaultBatchSize {
		t.Errorf("Recorder.BatchSize = %d, want default %d", cfg.Recorder.BatchSize, DefaultBatchSize)
	}
	if cfg.Subscriptions.QuoteEndpoint != DefaultQuoteEndpoint {
		t.Errorf("Subscriptions.QuoteEndpoint = %q, want default %q", cfg.Subscriptions.QuoteEndpoint, DefaultQuoteEndpoint)
	}
}

func TestDefaultsSkipDisabledDatabase(t *testing.T) {
	cfg := &StreamConfig{}
	cfg.applyDefaults()

	if cfg.Database.Enabled() {
		t.Error("expected database to stay disabled")
	}
	if cfg.Database.Port != 0 {
		t.Errorf("Database.Port = %d, want 0 when disabled", cfg.Database.Port)
	}
}

func TestClientConfig(t *testing.T) {
	c := ConnectionConfig{
		ConnectTimeout:    time.Second,
		HeartbeatInterval: 2 * time.Second,
		RequestRate:       10,
		RequestBurst:      3,
	}
	cc := c.ClientConfig()

	if cc.ConnectTimeout != time.Second || cc.HeartbeatInterval != 2*time.Second {
		t.Errorf("timeouts not carried over: %+v", cc)
	}
	if cc.RequestRate != 10 || cc.RequestBurst != 3 {
		t.Errorf("rate not carried over: %+v", cc)
	}
}

func TestSocketURL(t *testing.T) {
	api := APIConfig{
		WSURL: "wss://demo.tradovateapi.com/v1/websocket",
		MDURL: "wss://md-demo.tradovateapi.com/v1/websocket",
	}

	tests := []struct {
		socket  string
		want    string
		wantErr bool
	}{
		{socket: "", want: api.MDURL},
		{socket: SocketMarketData, want: api.MDURL},
		{socket: SocketTrading, want: api.WSURL},
		{socket: "orders", wantErr: true},
	}

	for _, tt := range tests {
		got, err := api.SocketURL(tt.socket)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SocketURL(%q) expected error, got %q", tt.socket, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SocketURL(%q) unexpected error: %v", tt.socket, err)
		}
		if got != tt.want {
			t.Errorf("SocketURL(%q) = %q, want %q", tt.socket, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() StreamConfig {
		cfg := StreamConfig{API: APIConfig{Token: "abc"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*StreamConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*StreamConfig) {},
			wantErr: "",
		},
		{
			name:    "missing token",
			mutate:  func(c *StreamConfig) { c.API.Token = "" },
			wantErr: "api.token or api.token_file is required",
		},
		{
			name:    "token file is enough",
			mutate:  func(c *StreamConfig) { c.API.Token, c.API.TokenFile = "", "/tmp/token.json" },
			wantErr: "",
		},
		{
			name:    "http md url",
			mutate:  func(c *StreamConfig) { c.API.MDURL = "https://md.example.com" },
			wantErr: `api.md_url must use ws or wss, got "https://md.example.com"`,
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *StreamConfig) { c.Connection.ConnectTimeout = 0 },
			wantErr: "connection.connect_timeout must be > 0",
		},
		{
			name:    "negative request rate",
			mutate:  func(c *StreamConfig) { c.Connection.RequestRate = -1 },
			wantErr: "connection.request_rate must be >= 0",
		},
		{
			name: "missing database password",
			mutate: func(c *StreamConfig) {
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 4}
			},
			wantErr: "database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *StreamConfig) {
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *StreamConfig) { c.Recorder.BatchSize = 0 },
			wantErr: "recorder.batch_size must be >= 1",
		},
		{
			name:    "empty quote symbol",
			mutate:  func(c *StreamConfig) { c.Subscriptions.Quotes = []string{"ESZ6", ""} },
			wantErr: "subscriptions.quotes[1] is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "api:\n  md_url: ftp://nope\n  token: abc\n")

	_, err := LoadAndValidate(path)
	if err == nil || !strings.HasPrefix(err.Error(), "validate config: ") {
		t.Errorf("LoadAndValidate error = %v, want validate config error", err)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
