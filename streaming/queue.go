package streaming

import (
	"sync"
	"time"
)

// eventQueue is the unbounded handoff between the scheduler goroutine and
// the drain goroutine. Closing it marks the end of the stream; items already
// queued stay drainable after close.
type eventQueue struct {
	mu     sync.Mutex
	items  []PublishEvent
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) put(event PublishEvent) {
	q.mu.Lock()
	q.items = append(q.items, event)
	q.mu.Unlock()

	q.wake()
}

// drain removes and returns up to max items without blocking, together with
// the closed flag.
func (q *eventQueue) drain(max int) ([]PublishEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n > max {
		n = max
	}

	if n == 0 {
		return nil, q.closed
	}

	batch := make([]PublishEvent, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]

	return batch, q.closed
}

// await blocks until the queue is signalled or the timeout elapses.
func (q *eventQueue) await(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-q.signal:
	case <-timer.C:
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
