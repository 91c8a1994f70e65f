package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
	"github.com/atvirokodosprendimai/timeline/internal/logging"
)

// LogPublisher writes one structured line per stored timeline record.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.OrDefault(logger)}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, event domain.TimelineEvent) error {
	p.logger.InfoContext(ctx, "timeline record published",
		"topic", topic,
		"record_id", event.ID,
		"event_type", string(event.EventType),
		"tenant", event.Tenant,
		"element_type", event.ElementType,
		"element_id", event.ElementID,
		"modified_by", event.ModifiedBy,
	)
	return nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []ports.TimelinePublisher

func (f Fanout) Publish(ctx context.Context, topic string, event domain.TimelineEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
