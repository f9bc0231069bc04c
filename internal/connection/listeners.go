package connection

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type listenerEntry struct {
	handle  ListenerHandle
	fn      Listener
	removed atomic.Bool
}

// listenerBus fans push payloads out to registered listeners.
// Dispatch iterates a snapshot; an entry removed mid-dispatch is skipped.
type listenerBus struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []*listenerEntry
	closed  bool
}

func newListenerBus(logger *slog.Logger) *listenerBus {
	return &listenerBus{logger: logger}
}

func (b *listenerBus) add(fn Listener) ListenerHandle {
	e := &listenerEntry{
		handle: ListenerHandle(uuid.New()),
		fn:     fn,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		e.removed.Store(true)
		return e.handle
	}
	b.entries = append(b.entries, e)
	return e.handle
}

func (b *listenerBus) remove(h ListenerHandle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if e.handle != h {
			continue
		}
		e.removed.Store(true)
		// Copy so snapshots held by in-flight dispatches stay intact.
		entries := make([]*listenerEntry, 0, len(b.entries)-1)
		entries = append(entries, b.entries[:i]...)
		b.entries = append(entries, b.entries[i+1:]...)
		return true
	}
	return false
}

// clear removes every listener and rejects later registrations.
func (b *listenerBus) clear() int {
	b.mu.Lock()
	entries := b.entries
	b.entries = nil
	b.closed = true
	b.mu.Unlock()

	for _, e := range entries {
		e.removed.Store(true)
	}
	return len(entries)
}

func (b *listenerBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// snapshot returns the listeners registered right now.
func (b *listenerBus) snapshot() []*listenerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries
}

// dispatch delivers payload to every registered listener.
func (b *listenerBus) dispatch(payload json.RawMessage) {
	b.deliver(b.snapshot(), payload)
}

// deliver invokes entries in order, skipping any removed since the snapshot.
func (b *listenerBus) deliver(entries []*listenerEntry, payload json.RawMessage) {
	for _, e := range entries {
		if e.removed.Load() {
			continue
		}
		b.invoke(e, payload)
	}
}

// invoke runs one listener, containing any panic it raises.
func (b *listenerBus) invoke(e *listenerEntry, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("listener panicked",
				"listener", e.handle,
				"panic", r,
			)
		}
	}()
	e.fn(payload)
}
