package connection

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrTimeout          = errors.New("connect timeout")
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrAlreadyStarted   = errors.New("connect already attempted")
	ErrStaleConnection  = errors.New("connection stale (no inbound traffic)")
	ErrServerClosed     = errors.New("server closed the session")
)

// Transport operations reported in ConnectionError.Op.
const (
	OpDial  = "dial"
	OpRead  = "read"
	OpWrite = "write"
)

// ConnectionError reports a transport failure. It is terminal for the Client.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConnectionClosed) match the loss of an open
// connection. A failed dial never opened one and does not match.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionClosed && (e.Op == OpRead || e.Op == OpWrite)
}

// AuthorizationError is returned by Connect when the authorize handshake is
// rejected, typically with status 401.
type AuthorizationError struct {
	Status  int
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed (status %d): %s", e.Status, e.Message)
}

// RequestError is a non-200 response to a request.
type RequestError struct {
	Endpoint string
	Status   int
	Message  string
	Payload  json.RawMessage
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

// payloadMessage renders a response payload as a human-readable message.
// String payloads are unquoted; anything else is kept as compact JSON.
func payloadMessage(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	return string(payload)
}
