package connection

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Subscription is a live feed established by Client.Subscribe.
type Subscription struct {
	client *Client

	requestID uint64
	endpoint  string
	token     string

	unsubscribeEndpoint string // empty when the feed has no mirror endpoint
	unsubscribeBody     any

	listener    ListenerHandle
	hasListener bool

	mu     sync.Mutex
	active bool
}

// RequestID returns the id of the subscribe request.
func (s *Subscription) RequestID() uint64 { return s.requestID }

// Endpoint returns the subscribe endpoint.
func (s *Subscription) Endpoint() string { return s.endpoint }

// Token returns the server-assigned subscription token, if any.
func (s *Subscription) Token() string { return s.token }

// UnsubscribeEndpoint returns the endpoint Unsubscribe will call.
func (s *Subscription) UnsubscribeEndpoint() string { return s.unsubscribeEndpoint }

// Active reports whether the subscription has not been torn down.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Unsubscribe stops the feed. The subscription becomes inactive whatever the
// outcome of the unsubscribe request. Calls after the first, or after the
// connection closed, are no-ops returning nil.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	if !s.deactivate() {
		return nil
	}

	s.client.subs.remove(s)
	if s.hasListener {
		s.client.listeners.remove(s.listener)
	}

	if s.unsubscribeEndpoint == "" {
		return nil
	}

	_, err := s.client.Send(ctx, s.unsubscribeEndpoint, s.unsubscribeBody)
	if err != nil {
		s.client.logger.Debug("unsubscribe failed",
			"endpoint", s.unsubscribeEndpoint,
			"token", s.token,
			"error", err,
		)
	}
	return err
}

// UnsubscribeFunc returns Unsubscribe as a closure.
func (s *Subscription) UnsubscribeFunc() func(context.Context) error {
	return s.Unsubscribe
}

// deactivate flips active to false and reports whether it was active.
func (s *Subscription) deactivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.active = false
	return true
}

// SubscribeOption customizes Subscribe.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	unsubscribeEndpoint string
	unsubscribeBody     any
	override            bool
}

// WithUnsubscribe sets the endpoint and body used to cancel the feed,
// overriding the naming convention.
func WithUnsubscribe(endpoint string, body any) SubscribeOption {
	return func(o *subscribeOptions) {
		o.unsubscribeEndpoint = endpoint
		o.unsubscribeBody = body
		o.override = true
	}
}

// mirrorEndpoint derives the cancel endpoint and body for a subscribe call.
//
//	md/subscribeQuote -> md/unsubscribeQuote (same body)
//	md/getChart       -> md/cancelChart ({"subscriptionId": token})
func mirrorEndpoint(endpoint string, body any, token string) (string, any, bool) {
	prefix, name := "", endpoint
	if i := strings.LastIndexByte(endpoint, '/'); i >= 0 {
		prefix, name = endpoint[:i+1], endpoint[i+1:]
	}
	lower := strings.ToLower(name)

	if lower == "getchart" {
		return prefix + "cancelChart", map[string]any{"subscriptionId": tokenValue(token)}, true
	}

	j := strings.Index(lower, "subscribe")
	if j < 0 || strings.HasSuffix(lower[:j], "un") {
		return "", nil, false
	}
	return prefix + name[:j] + "un" + name[j:], body, true
}

// tokenValue returns token as a JSON number when it is one.
func tokenValue(token string) any {
	var n json.Number
	if err := json.Unmarshal([]byte(token), &n); err == nil {
		return n
	}
	return token
}

// tokenKeys are the payload fields that carry a subscription token, in order.
var tokenKeys = []string{"realtimeId", "subscriptionId", "id"}

// subscriptionToken extracts the server-assigned token from a subscribe response.
func subscriptionToken(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err == nil {
		for _, key := range tokenKeys {
			if v, ok := fields[key]; ok {
				return scalarString(v)
			}
		}
		return ""
	}
	return scalarString(payload)
}

func scalarString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

// subscriptionTable tracks active subscriptions of a Client.
type subscriptionTable struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{
		subs: make(map[*Subscription]struct{}),
	}
}

// add records s. It returns false once the table has been closed.
func (t *subscriptionTable) add(s *Subscription) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.subs[s] = struct{}{}
	return true
}

func (t *subscriptionTable) remove(s *Subscription) {
	t.mu.Lock()
	delete(t.subs, s)
	t.mu.Unlock()
}

// deactivateAll marks every subscription inactive without any network call.
func (t *subscriptionTable) deactivateAll() int {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[*Subscription]struct{})
	t.closed = true
	t.mu.Unlock()

	for s := range subs {
		s.deactivate()
	}
	return len(subs)
}

func (t *subscriptionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
