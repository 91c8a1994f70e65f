package usecase

import (
	"context"
	"sort"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// TimelineService answers read queries over stored timeline records.
type TimelineService struct {
	store         ports.TimelineStore
	reconstructor *StateReconstructor
}

func NewTimelineService(store ports.TimelineStore, reconstructor *StateReconstructor) *TimelineService {
	if reconstructor == nil {
		reconstructor = NewStateReconstructor(nil, nil)
	}
	return &TimelineService{store: store, reconstructor: reconstructor}
}

func (s *TimelineService) List(ctx context.Context, filter domain.TimelineFilter) ([]domain.TimelineEvent, error) {
	if err := domain.ValidateKey(filter.Tenant); err != nil {
		return nil, err
	}
	if filter.ElementType != "" {
		if err := domain.ValidateElementType(filter.ElementType); err != nil {
			return nil, err
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.store.List(ctx, filter)
}

// ElementTimeline returns the tenant's records of one element, oldest first.
func (s *TimelineService) ElementTimeline(ctx context.Context, tenant, elementType, elementID string) ([]domain.TimelineEvent, error) {
	if err := validateElementRef(elementType, elementID); err != nil {
		return nil, err
	}
	if err := domain.ValidateKey(tenant); err != nil {
		return nil, err
	}
	events, err := s.store.FindByElement(ctx, elementType, elementID, tenant)
	if err != nil {
		return nil, err
	}
	SortChronologically(events)
	return events, nil
}

// History returns all records of an element across tenants, oldest first.
func (s *TimelineService) History(ctx context.Context, elementType, elementID string) ([]domain.TimelineEvent, error) {
	if err := validateElementRef(elementType, elementID); err != nil {
		return nil, err
	}
	return s.store.FindHistory(ctx, elementID, elementType)
}

func (s *TimelineService) Latest(ctx context.Context, elementType, elementID string) (domain.TimelineEvent, error) {
	if err := validateElementRef(elementType, elementID); err != nil {
		return domain.TimelineEvent{}, err
	}
	return s.store.FindLatest(ctx, elementID, elementType)
}

// State reconstructs the current fields of an element from the tenant's records.
func (s *TimelineService) State(ctx context.Context, tenant, elementType, elementID string) (ElementState, error) {
	events, err := s.ElementTimeline(ctx, tenant, elementType, elementID)
	if err != nil {
		return ElementState{}, err
	}
	if len(events) == 0 {
		return ElementState{}, domain.ErrNotFound
	}
	last := events[len(events)-1]
	return ElementState{
		ElementType: elementType,
		ElementID:   elementID,
		Tenant:      tenant,
		Deleted:     last.EventType == domain.EventDeleted,
		LastEventID: last.ID,
		Records:     len(events),
		Fields:      s.reconstructor.Reconstruct(events),
	}, nil
}

func (s *TimelineService) Reconstructor() *StateReconstructor {
	return s.reconstructor
}

// SortChronologically orders records by timestamp, then id.
func SortChronologically(events []domain.TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}

func validateElementRef(elementType, elementID string) error {
	if err := domain.ValidateElementType(elementType); err != nil {
		return err
	}
	return domain.ValidateKey(elementID)
}
