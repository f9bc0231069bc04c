package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/tradovate-stream/internal/auth"
)

// ConnectWith connects using a token from a. An expired token is refused
// before dialing. If the server rejects the token, a is invalidated so the
// next attempt obtains a fresh one.
func (c *Client) ConnectWith(ctx context.Context, url string, a auth.Authenticator) error {
	tok, err := a.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain token: %w", err)
	}
	if tok.Expired(time.Now()) {
		a.Invalidate()
		return auth.ErrTokenExpired
	}

	err = c.Connect(ctx, url, tok.Value)

	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		c.logger.Warn("token rejected, invalidating", "status", authErr.Status)
		a.Invalidate()
	}
	return err
}
