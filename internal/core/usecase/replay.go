package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/logging"
	"github.com/atvirokodosprendimai/timeline/internal/metrics"
)

// StateReconstructor rebuilds the last known field state of an element from
// its stored records.
type StateReconstructor struct {
	codec  *AttributesCodec
	logger *slog.Logger
}

func NewStateReconstructor(codec *AttributesCodec, logger *slog.Logger) *StateReconstructor {
	if codec == nil {
		codec = NewAttributesCodec()
	}
	return &StateReconstructor{codec: codec, logger: logging.OrDefault(logger)}
}

// Reconstruct folds history, which must be ordered oldest first. Records that
// cannot be parsed are logged and skipped.
func (r *StateReconstructor) Reconstruct(history []domain.TimelineEvent) map[string]any {
	state := make(map[string]any)
	for _, event := range history {
		r.Apply(state, event)
	}
	return state
}

// Apply folds a single record into state.
func (r *StateReconstructor) Apply(state map[string]any, event domain.TimelineEvent) {
	payload, err := r.codec.Payload(event)
	if err != nil {
		r.skip(event, err)
		return
	}

	switch event.EventType {
	case domain.EventCreated:
		mergeFields(state, payload, false)
	case domain.EventUpdated:
		mergeFields(state, payload, true)
	case domain.EventDeleted:
		clear(state)
	default:
		r.skip(event, fmt.Errorf("%w: %q", domain.ErrInvalidEventType, event.EventType))
	}
}

func (r *StateReconstructor) skip(event domain.TimelineEvent, err error) {
	metrics.IncReplaySkipped()
	r.logger.Warn("skipping unreadable timeline record",
		"record_id", event.ID,
		"element_type", event.ElementType,
		"element_id", event.ElementID,
		"event_type", string(event.EventType),
		"error", err,
	)
}

// mergeFields copies payload into state. A null value removes the field.
// With changes set, {"old","new"} pairs contribute their new value and any
// other value is taken as is.
func mergeFields(state, payload map[string]any, changes bool) {
	for key, value := range payload {
		if changes {
			if next, ok := changedValue(value); ok {
				value = next
			}
		}
		if value == nil {
			delete(state, key)
			continue
		}
		state[key] = value
	}
}

func changedValue(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 2 {
		return nil, false
	}
	if _, ok := m["old"]; !ok {
		return nil, false
	}
	next, ok := m["new"]
	return next, ok
}

// ElementState is the reconstructed state of one element during a tenant replay.
type ElementState struct {
	ElementType string         `json:"elementType"`
	ElementID   string         `json:"elementId"`
	Tenant      string         `json:"tenant"`
	Deleted     bool           `json:"deleted"`
	LastEventID int64          `json:"lastEventId"`
	Records     int            `json:"records"`
	Fields      map[string]any `json:"fields"`
}

// ReplayTenant pages through a tenant's records in id order and hands the
// reconstructed state of every element to applyFn, sorted by element id.
func ReplayTenant(ctx context.Context, timeline *TimelineService, reconstructor *StateReconstructor, tenant, elementType string, batchSize int, applyFn func(ElementState) error) error {
	if batchSize <= 0 || batchSize > maxListLimit {
		batchSize = maxListLimit
	}

	states := map[string]*ElementState{}
	afterID := int64(0)
	for {
		events, err := timeline.List(ctx, domain.TimelineFilter{Tenant: tenant, ElementType: elementType, AfterID: afterID, Limit: batchSize})
		if err != nil {
			return fmt.Errorf("list timeline records: %w", err)
		}
		if len(events) == 0 {
			break
		}

		for _, e := range events {
			st, ok := states[e.ElementID]
			if !ok {
				st = &ElementState{ElementType: e.ElementType, ElementID: e.ElementID, Tenant: e.Tenant, Fields: map[string]any{}}
				states[e.ElementID] = st
			}
			reconstructor.Apply(st.Fields, e)
			st.Deleted = e.EventType == domain.EventDeleted
			st.LastEventID = e.ID
			st.Records++
			afterID = e.ID
		}
		if len(events) < batchSize {
			break
		}
	}

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := applyFn(*states[id]); err != nil {
			return fmt.Errorf("apply element %s: %w", id, err)
		}
	}
	return nil
}
