package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
	"github.com/atvirokodosprendimai/timeline/internal/logging"
	"github.com/atvirokodosprendimai/timeline/internal/metrics"
)

const tracerName = "github.com/atvirokodosprendimai/timeline/usecase"

// EmptyDiffPolicy decides what happens to an UPDATED message without changes.
type EmptyDiffPolicy string

const (
	EmptyDiffRecord EmptyDiffPolicy = "record"
	EmptyDiffSkip   EmptyDiffPolicy = "skip"
)

func ParseEmptyDiffPolicy(raw string) (EmptyDiffPolicy, error) {
	switch EmptyDiffPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", EmptyDiffRecord:
		return EmptyDiffRecord, nil
	case EmptyDiffSkip:
		return EmptyDiffSkip, nil
	default:
		return "", fmt.Errorf("unknown empty diff policy %q", raw)
	}
}

type ProcessorOptions struct {
	Registry  *RecordRegistry
	Codec     *AttributesCodec
	Publisher ports.TimelinePublisher
	EmptyDiff EmptyDiffPolicy
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Now       func() time.Time
}

// Processor converts queued messages into stored timeline records.
type Processor struct {
	store         ports.TimelineStore
	registry      *RecordRegistry
	codec         *AttributesCodec
	reconstructor *StateReconstructor
	publisher     ports.TimelinePublisher
	emptyDiff     EmptyDiffPolicy
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

func NewProcessor(store ports.TimelineStore, opts ProcessorOptions) *Processor {
	p := &Processor{
		store:     store,
		registry:  opts.Registry,
		codec:     opts.Codec,
		publisher: opts.Publisher,
		emptyDiff: opts.EmptyDiff,
		logger:    logging.OrDefault(opts.Logger),
		tracer:    opts.Tracer,
		now:       opts.Now,
	}
	if p.registry == nil {
		p.registry = NewRecordRegistry()
	}
	if p.codec == nil {
		p.codec = NewAttributesCodec()
	}
	if p.emptyDiff == "" {
		p.emptyDiff = EmptyDiffRecord
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.reconstructor = NewStateReconstructor(p.codec, p.logger)
	return p
}

// Process stores one record for msg. written is false when the empty-diff
// policy dropped an UPDATED message without changes.
func (p *Processor) Process(ctx context.Context, msg domain.TimelineMessage) (domain.TimelineEvent, bool, error) {
	ctx, span := p.tracer.Start(ctx, "timeline.process", trace.WithAttributes(
		attribute.String("timeline.event_type", string(msg.EventType)),
		attribute.String("timeline.element_type", msg.ElementType),
		attribute.String("timeline.element_id", msg.ElementID),
	))
	defer span.End()

	event, written, err := p.process(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.TimelineEvent{}, false, err
	}
	span.SetAttributes(attribute.Bool("timeline.written", written))
	if written {
		span.SetAttributes(attribute.Int64("timeline.record_id", event.ID))
	}
	return event, written, nil
}

func (p *Processor) process(ctx context.Context, msg domain.TimelineMessage) (domain.TimelineEvent, bool, error) {
	if err := msg.Validate(); err != nil {
		return domain.TimelineEvent{}, false, err
	}
	record, err := p.registry.New(msg)
	if err != nil {
		return domain.TimelineEvent{}, false, err
	}
	record.Timestamp = p.now().UTC().Truncate(time.Microsecond)

	var payload any
	switch msg.EventType {
	case domain.EventCreated:
		snapshot := msg.Attributes
		if snapshot == nil {
			snapshot = map[string]any{}
		}
		payload = snapshot

	case domain.EventUpdated:
		history, err := p.store.FindHistory(ctx, msg.ElementID, msg.ElementType)
		if err != nil {
			return domain.TimelineEvent{}, false, fmt.Errorf("%w: load history %s/%s: %w", domain.ErrStoreUnavailable, msg.ElementType, msg.ElementID, err)
		}
		if len(history) > 0 {
			last := history[len(history)-1]
			if last.Tenant != "" {
				record.Tenant = last.Tenant
			}
			record.Timestamp = after(record.Timestamp, last.Timestamp)
		}

		changes := Diff(p.reconstructor.Reconstruct(history), msg.Attributes)
		if len(changes) == 0 {
			metrics.IncEmptyDiff(string(p.emptyDiff))
			if p.emptyDiff == EmptyDiffSkip {
				p.logger.Debug("skipping update without changes",
					"element_type", msg.ElementType,
					"element_id", msg.ElementID,
					"tenant", record.Tenant,
				)
				return domain.TimelineEvent{}, false, nil
			}
		}
		payload = changes

	case domain.EventDeleted:
		latest, err := p.store.FindLatest(ctx, msg.ElementID, msg.ElementType)
		switch {
		case err == nil:
			if latest.Tenant != "" {
				record.Tenant = latest.Tenant
			}
			record.Timestamp = after(record.Timestamp, latest.Timestamp)
		case errors.Is(err, domain.ErrNotFound):
		default:
			return domain.TimelineEvent{}, false, fmt.Errorf("%w: load latest %s/%s: %w", domain.ErrStoreUnavailable, msg.ElementType, msg.ElementID, err)
		}
		payload = map[string]any{}
	}

	attributes, err := p.codec.Encode(payload)
	if err != nil {
		return domain.TimelineEvent{}, false, err
	}
	record.Attributes = attributes

	saved, err := p.store.Append(ctx, record)
	if err != nil {
		return domain.TimelineEvent{}, false, fmt.Errorf("%w: append timeline record: %w", domain.ErrStoreUnavailable, err)
	}
	p.publish(ctx, saved)
	return saved, true, nil
}

func (p *Processor) publish(ctx context.Context, event domain.TimelineEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, Topic(event), event); err != nil {
		p.logger.Warn("publish timeline record failed",
			"record_id", event.ID,
			"element_type", event.ElementType,
			"element_id", event.ElementID,
			"error", err,
		)
	}
}

// Topic is the publish subject of a stored record.
func Topic(event domain.TimelineEvent) string {
	return fmt.Sprintf("timeline.%s.%s.%s", event.Tenant, event.ElementType, event.EventType)
}

// after keeps record timestamps strictly increasing per element when the
// wall clock steps backwards.
func after(ts, prev time.Time) time.Time {
	if ts.After(prev) {
		return ts
	}
	return prev.Add(time.Microsecond)
}
