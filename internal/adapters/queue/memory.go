package queue

import (
	"context"
	"sync"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

// MemoryQueue is an unbounded in-process FIFO. Enqueue never blocks, so
// capture never stalls a business write.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []domain.TimelineMessage
	closed bool
	signal chan struct{} // buffered, size 1
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items:  make([]domain.TimelineMessage, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg domain.TimelineMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	q.items = append(q.items, msg)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a message is available, ctx is done, or the queue is
// closed and empty.
func (q *MemoryQueue) Dequeue(ctx context.Context) (domain.TimelineMessage, error) {
	for {
		if msg, ok, closed := q.pop(); ok {
			return msg, nil
		} else if closed {
			return domain.TimelineMessage{}, domain.ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return domain.TimelineMessage{}, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) pop() (domain.TimelineMessage, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.TimelineMessage{}, false, q.closed
	}
	msg := q.items[0]
	q.items[0] = domain.TimelineMessage{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return msg, true, false
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further messages and wakes blocked consumers. Messages
// already queued are still delivered.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	return nil
}
