package usecase

import (
	"context"
	"sync"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

type chanQueue struct {
	ch         chan domain.TimelineMessage
	once       sync.Once
	enqueueErr error
}

func newChanQueue() *chanQueue {
	return &chanQueue{ch: make(chan domain.TimelineMessage, 128)}
}

func (q *chanQueue) Enqueue(ctx context.Context, msg domain.TimelineMessage) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *chanQueue) Dequeue(ctx context.Context) (domain.TimelineMessage, error) {
	select {
	case msg, ok := <-q.ch:
		if !ok {
			return domain.TimelineMessage{}, domain.ErrQueueClosed
		}
		return msg, nil
	case <-ctx.Done():
		return domain.TimelineMessage{}, ctx.Err()
	}
}

func (q *chanQueue) Close() error {
	q.once.Do(func() { close(q.ch) })
	return nil
}
