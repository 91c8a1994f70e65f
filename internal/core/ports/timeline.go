package ports

import (
	"context"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

// TimelineStore is append-only: records are written once and only read afterwards.
type TimelineStore interface {
	Append(ctx context.Context, event domain.TimelineEvent) (domain.TimelineEvent, error)
	// FindByElement returns the element's records for one tenant in no guaranteed order.
	FindByElement(ctx context.Context, elementType, elementID, tenant string) ([]domain.TimelineEvent, error)
	// FindLatest returns the most recent record or domain.ErrNotFound.
	FindLatest(ctx context.Context, elementID, elementType string) (domain.TimelineEvent, error)
	// FindHistory returns all records of the element ordered by timestamp ascending.
	FindHistory(ctx context.Context, elementID, elementType string) ([]domain.TimelineEvent, error)
	// List pages through a tenant's records in id order.
	List(ctx context.Context, filter domain.TimelineFilter) ([]domain.TimelineEvent, error)
}

// MessageQueue carries captured messages from many producers to one consumer.
type MessageQueue interface {
	Enqueue(ctx context.Context, msg domain.TimelineMessage) error
	// Dequeue blocks until a message is available. It returns domain.ErrQueueClosed
	// once the queue is closed and drained.
	Dequeue(ctx context.Context) (domain.TimelineMessage, error)
	Close() error
}

type TimelinePublisher interface {
	Publish(ctx context.Context, topic string, event domain.TimelineEvent) error
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// EventCapturer is used by persistence hooks. Prepare runs before the write
// commits and may veto it; Dispatch runs after commit.
type EventCapturer interface {
	Prepare(ctx context.Context, kind domain.EventType, snap domain.ElementSnapshot) (domain.TimelineMessage, error)
	Dispatch(ctx context.Context, msg domain.TimelineMessage) error
}
