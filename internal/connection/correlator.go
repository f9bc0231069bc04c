package connection

import (
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/tradovate-stream/internal/protocol"
)

// result is the single completion of a pending request.
type result struct {
	env protocol.Envelope
	err error
}

// pendingRequest is an outstanding request awaiting its response envelope.
type pendingRequest struct {
	id        uint64
	endpoint  string
	done      chan result // buffered 1, written exactly once
	createdAt time.Time

	// onSuccess runs in resolve for a 200 response, before done is written.
	onSuccess func()
}

// correlator maps request ids to pending requests.
type correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingRequest
	closed  error // set once by rejectAll
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[uint64]*pendingRequest),
	}
}

// register allocates the next id and records a pending request under it.
func (c *correlator) register(endpoint string, onSuccess func()) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return nil, c.closed
	}

	// Skip ids still outstanding after a wrap-around.
	for {
		c.nextID++
		if _, taken := c.pending[c.nextID]; !taken && c.nextID != 0 {
			break
		}
	}

	p := &pendingRequest{
		id:        c.nextID,
		endpoint:  endpoint,
		done:      make(chan result, 1),
		createdAt: time.Now(),
		onSuccess: onSuccess,
	}
	c.pending[p.id] = p
	return p, nil
}

// resolve completes the request matching env's id.
// It returns false if env has no id or no request is waiting on it.
func (c *correlator) resolve(env protocol.Envelope) (*pendingRequest, bool) {
	if !env.HasID() {
		return nil, false
	}

	c.mu.Lock()
	p, ok := c.pending[*env.ID]
	if ok {
		delete(c.pending, *env.ID)
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}
	if p.onSuccess != nil && env.StatusCode() == http.StatusOK {
		p.onSuccess()
	}
	p.done <- result{env: env}
	return p, true
}

// cancel drops a pending request without completing it.
// It returns false if the request was already completed.
func (c *correlator) cancel(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// rejectAll completes every pending request with err and refuses new ones.
func (c *correlator) rejectAll(err error) int {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = err
	}
	pending := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		p.done <- result{err: err}
	}
	return len(pending)
}

func (c *correlator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
