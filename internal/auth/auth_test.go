package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTokenFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestToken_Expired(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	assert.False(t, Token{Value: "x"}.Expired(now), "zero expiry never expires")
	assert.False(t, Token{Value: "x", ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, Token{Value: "x", ExpiresAt: now}.Expired(now))
	assert.True(t, Token{Value: "x", ExpiresAt: now.Add(-time.Minute)}.Expired(now))
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic("tok", time.Time{})

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Value)

	s.Invalidate()
	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestStatic_Empty(t *testing.T) {
	_, err := NewStatic("", time.Time{}).Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestLoadToken(t *testing.T) {
	path := writeTokenFile(t, `{
		"accessToken": "access-1",
		"mdAccessToken": "md-1",
		"expirationTime": "2026-01-15T13:00:00Z"
	}`)

	tok, err := LoadToken(path, false)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.Value)
	assert.Equal(t, time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC), tok.ExpiresAt.UTC())

	tok, err = LoadToken(path, true)
	require.NoError(t, err)
	assert.Equal(t, "md-1", tok.Value)
}

func TestLoadToken_MarketDataFallback(t *testing.T) {
	path := writeTokenFile(t, `{"accessToken": "access-1"}`)

	tok, err := LoadToken(path, true)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.Value)
	assert.True(t, tok.ExpiresAt.IsZero())
}

func TestLoadToken_Errors(t *testing.T) {
	_, err := LoadToken("", false)
	assert.Error(t, err)

	_, err = LoadToken("/nonexistent/path/token.json", false)
	assert.Error(t, err)

	_, err = LoadToken(writeTokenFile(t, "not json"), false)
	assert.Error(t, err)

	_, err = LoadToken(writeTokenFile(t, `{}`), false)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFile_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	path := writeTokenFile(t, `{"accessToken": "first"}`)
	f := NewFile(path, false)

	tok, err := f.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", tok.Value)

	require.NoError(t, os.WriteFile(path, []byte(`{"accessToken": "second"}`), 0600))

	tok, err = f.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", tok.Value, "cached token served until invalidated")

	f.Invalidate()
	tok, err = f.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", tok.Value)
}
