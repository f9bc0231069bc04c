// Package auth defines the credential boundary of the protocol client.
//
// Token acquisition and renewal happen elsewhere. This package only hands an
// already-issued bearer token to a connection attempt, and forgets it when the
// server rejects it.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Errors
var (
	ErrNoToken      = errors.New("no access token available")
	ErrTokenExpired = errors.New("access token expired")
)

// Token is a bearer token and its expiry. A zero ExpiresAt never expires.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Authenticator supplies tokens for connection attempts.
type Authenticator interface {
	// Token returns the current token.
	Token(ctx context.Context) (Token, error)

	// Invalidate drops any cached token, e.g. after the server answered 401.
	Invalidate()
}

// Static serves a fixed token until it is invalidated.
type Static struct {
	mu    sync.Mutex
	token Token
	valid bool
}

// NewStatic creates a Static authenticator.
func NewStatic(value string, expiresAt time.Time) *Static {
	return &Static{
		token: Token{Value: value, ExpiresAt: expiresAt},
		valid: value != "",
	}
}

// Token returns the token, or ErrNoToken once invalidated.
func (s *Static) Token(ctx context.Context) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return Token{}, ErrNoToken
	}
	return s.token, nil
}

// Invalidate forgets the token.
func (s *Static) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// tokenFile is the JSON shape of an access token response saved to disk.
type tokenFile struct {
	AccessToken    string    `json:"accessToken"`
	MDAccessToken  string    `json:"mdAccessToken"`
	ExpirationTime time.Time `json:"expirationTime"`
}

// LoadToken reads a token file. With marketData set the market data token is
// preferred when present.
func LoadToken(path string, marketData bool) (Token, error) {
	if path == "" {
		return Token{}, fmt.Errorf("token file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Token{}, fmt.Errorf("read token file: %w", err)
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Token{}, fmt.Errorf("parse token file: %w", err)
	}

	value := f.AccessToken
	if marketData && f.MDAccessToken != "" {
		value = f.MDAccessToken
	}
	if value == "" {
		return Token{}, ErrNoToken
	}

	return Token{Value: value, ExpiresAt: f.ExpirationTime}, nil
}

// File reads the token from a file kept fresh by another process. The token
// is cached until invalidated, then re-read on the next call.
type File struct {
	Path       string
	MarketData bool

	mu     sync.Mutex
	cached *Token
}

// NewFile creates a File authenticator.
func NewFile(path string, marketData bool) *File {
	return &File{Path: path, MarketData: marketData}
}

// Token returns the cached token, loading it from disk if needed.
func (f *File) Token(ctx context.Context) (Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil {
		return *f.cached, nil
	}

	tok, err := LoadToken(f.Path, f.MarketData)
	if err != nil {
		return Token{}, err
	}
	f.cached = &tok
	return tok, nil
}

// Invalidate drops the cached token.
func (f *File) Invalidate() {
	f.mu.Lock()
	f.cached = nil
	f.mu.Unlock()
}
