package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
	"github.com/atvirokodosprendimai/timeline/internal/logging"
	"github.com/atvirokodosprendimai/timeline/internal/metrics"
)

// Capturer turns committed lifecycle events of entities into queued messages.
type Capturer struct {
	queue  ports.MessageQueue
	logger *slog.Logger
	now    func() time.Time
}

func NewCapturer(queue ports.MessageQueue, logger *slog.Logger) *Capturer {
	return &Capturer{queue: queue, logger: logging.OrDefault(logger), now: time.Now}
}

// Capture prepares and dispatches one message for snap.
func (c *Capturer) Capture(ctx context.Context, kind domain.EventType, snap domain.ElementSnapshot) error {
	msg, err := c.Prepare(ctx, kind, snap)
	if err != nil {
		return err
	}
	return c.Dispatch(ctx, msg)
}

// Prepare builds the message for snap. Missing tenant or identity are
// configuration errors; callers abort the business write on them.
func (c *Capturer) Prepare(ctx context.Context, kind domain.EventType, snap domain.ElementSnapshot) (domain.TimelineMessage, error) {
	if !kind.Valid() {
		return domain.TimelineMessage{}, fmt.Errorf("%w: %q", domain.ErrInvalidEventType, kind)
	}
	if snap.ElementID == "" {
		return domain.TimelineMessage{}, fmt.Errorf("capture %s %s: %w", kind, snap.ElementType, domain.ErrMissingIdentity)
	}

	tenant := snap.Tenant
	if !snap.HasTenant() {
		tenant, _ = domain.TenantFromContext(ctx)
	}
	if tenant == "" {
		return domain.TimelineMessage{}, fmt.Errorf("capture %s %s/%s: %w", kind, snap.ElementType, snap.ElementID, domain.ErrMissingTenant)
	}

	attributes := snap.Attributes
	if attributes == nil {
		attributes = map[string]any{}
	}
	msg := domain.TimelineMessage{
		EventType:   kind,
		ElementType: snap.ElementType,
		ElementID:   snap.ElementID,
		Tenant:      tenant,
		Timestamp:   c.now().UTC(),
		ModifiedBy:  snap.ModifiedBy(),
		Attributes:  attributes,
	}
	if err := msg.Validate(); err != nil {
		return domain.TimelineMessage{}, fmt.Errorf("capture %s %s/%s: %w", kind, snap.ElementType, snap.ElementID, err)
	}
	return msg, nil
}

// Dispatch enqueues msg. Failures are wrapped with domain.ErrDispatchFailed.
func (c *Capturer) Dispatch(ctx context.Context, msg domain.TimelineMessage) error {
	if err := c.queue.Enqueue(ctx, msg); err != nil {
		metrics.IncCaptureFailed(msg.EventType)
		return fmt.Errorf("%w: %s %s/%s: %w", domain.ErrDispatchFailed, msg.EventType, msg.ElementType, msg.ElementID, err)
	}
	metrics.IncCaptured(msg.EventType)
	c.logger.Debug("timeline message queued",
		"event_type", string(msg.EventType),
		"element_type", msg.ElementType,
		"element_id", msg.ElementID,
		"tenant", msg.Tenant,
	)
	return nil
}
