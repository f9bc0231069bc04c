package connection

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthorizing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Listener receives the payload of every push envelope. Listeners run one at
// a time on the client's dispatch goroutine, in arrival order, and may call
// back into the Client.
type Listener func(payload json.RawMessage)

// ListenerHandle identifies a registered Listener.
type ListenerHandle uuid.UUID

func (h ListenerHandle) String() string {
	return uuid.UUID(h).String()
}

// ClientConfig configures a Client.
type ClientConfig struct {
	ConnectTimeout    time.Duration // Deadline for dial + authorize
	RequestTimeout    time.Duration // Per-request deadline after Ready (0 = none)
	HeartbeatInterval time.Duration // Interval between "[]" heartbeat frames (0 = disabled)
	ReadTimeout       time.Duration // Max time without inbound traffic before the transport is stale (0 = disabled)
	WriteTimeout      time.Duration // Write deadline for sends
	RequestRate       float64       // Outgoing requests per second (0 = unlimited)
	RequestBurst      int           // Burst allowance for RequestRate
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout:    30 * time.Second,
		HeartbeatInterval: 2500 * time.Millisecond,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}
