package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamConfig) Validate() error {
	if err := validateWSURL("api.ws_url", c.API.WSURL); err != nil {
		return err
	}
	if err := validateWSURL("api.md_url", c.API.MDURL); err != nil {
		return err
	}
	if c.API.Token == "" && c.API.TokenFile == "" {
		return errors.New("api.token or api.token_file is required")
	}

	if c.Connection.ConnectTimeout <= 0 {
		return errors.New("connection.connect_timeout must be > 0")
	}
	if c.Connection.RequestTimeout < 0 {
		return errors.New("connection.request_timeout must be >= 0")
	}
	if c.Connection.HeartbeatInterval < 0 {
		return errors.New("connection.heartbeat_interval must be >= 0")
	}
	if c.Connection.RequestRate < 0 {
		return errors.New("connection.request_rate must be >= 0")
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Recorder.BatchSize < 1 {
		return errors.New("recorder.batch_size must be >= 1")
	}
	if c.Recorder.BufferSize < 1 {
		return errors.New("recorder.buffer_size must be >= 1")
	}
	if c.Recorder.FlushInterval <= 0 {
		return errors.New("recorder.flush_interval must be > 0")
	}

	for i, symbol := range c.Subscriptions.Quotes {
		if symbol == "" {
			return fmt.Errorf("subscriptions.quotes[%d] is empty", i)
		}
	}

	return nil
}

func validateWSURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s must use ws or wss, got %q", field, raw)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
