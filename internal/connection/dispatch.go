package connection

import (
	"encoding/json"
	"sync"

	"github.com/eapache/queue"
)

// pushItem is a push payload and the listeners registered when it was read.
type pushItem struct {
	payload   json.RawMessage
	listeners []*listenerEntry
}

// pushQueue hands pushes from the read goroutine to the dispatch goroutine.
// It is unbounded so a slow listener never blocks response routing.
type pushQueue struct {
	mu      sync.Mutex
	items   *queue.Queue
	pending int // queued plus the one being delivered
	closed  bool
	signal  chan struct{}
}

func newPushQueue() *pushQueue {
	return &pushQueue{
		items:  queue.New(),
		signal: make(chan struct{}, 1),
	}
}

// put appends an item. It reports false once the queue is closed.
func (q *pushQueue) put(it pushItem) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.Add(it)
	q.pending++
	q.mu.Unlock()

	q.wake()
	return true
}

// next blocks until an item is available. It returns false once closed.
// The caller reports completion with done.
func (q *pushQueue) next() (pushItem, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return pushItem{}, false
		}
		if q.items.Length() > 0 {
			it := q.items.Remove().(pushItem)
			q.mu.Unlock()
			return it, true
		}
		q.mu.Unlock()

		<-q.signal
	}
}

func (q *pushQueue) done() {
	q.mu.Lock()
	q.pending--
	q.mu.Unlock()
}

// close discards queued items and stops the consumer. It returns the number
// of discarded items.
func (q *pushQueue) close() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true
	n := q.items.Length()
	q.items = queue.New()
	q.pending -= n
	q.mu.Unlock()

	q.wake()
	return n
}

// len returns the number of pushes not yet fully delivered.
func (q *pushQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *pushQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
