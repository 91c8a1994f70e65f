package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

type memTimelineStore struct {
	mu     sync.Mutex
	events []domain.TimelineEvent

	appendErr  error
	historyErr error
	// appendFailures makes the next n appends fail as a busy database would.
	appendFailures int
}

func (s *memTimelineStore) Append(_ context.Context, event domain.TimelineEvent) (domain.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return domain.TimelineEvent{}, s.appendErr
	}
	if s.appendFailures > 0 {
		s.appendFailures--
		return domain.TimelineEvent{}, errors.New("database is locked")
	}
	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, event)
	return event, nil
}

func (s *memTimelineStore) FindByElement(_ context.Context, elementType, elementID, tenant string) ([]domain.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TimelineEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.ElementType == elementType && e.ElementID == elementID && e.Tenant == tenant {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memTimelineStore) FindLatest(ctx context.Context, elementID, elementType string) (domain.TimelineEvent, error) {
	history, err := s.FindHistory(ctx, elementID, elementType)
	if err != nil {
		return domain.TimelineEvent{}, err
	}
	if len(history) == 0 {
		return domain.TimelineEvent{}, domain.ErrNotFound
	}
	return history[len(history)-1], nil
}

func (s *memTimelineStore) FindHistory(_ context.Context, elementID, elementType string) ([]domain.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	var out []domain.TimelineEvent
	for _, e := range s.events {
		if e.ElementType == elementType && e.ElementID == elementID {
			out = append(out, e)
		}
	}
	SortChronologically(out)
	return out, nil
}

func (s *memTimelineStore) List(_ context.Context, filter domain.TimelineFilter) ([]domain.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TimelineEvent
	for _, e := range s.events {
		if e.Tenant != filter.Tenant || e.ID <= filter.AfterID {
			continue
		}
		if filter.ElementType != "" && e.ElementType != filter.ElementType {
			continue
		}
		out = append(out, e)
		if len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *memTimelineStore) all() []domain.TimelineEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TimelineEvent(nil), s.events...)
}

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func record(id int64, kind domain.EventType, elementID, attributes string) domain.TimelineEvent {
	return domain.TimelineEvent{
		ID:            id,
		Tenant:        "t1",
		EventType:     kind,
		ElementType:   "Article",
		ElementID:     elementID,
		Timestamp:     time.Date(2024, 5, 1, 10, 0, int(id), 0, time.UTC),
		SchemaVersion: domain.CurrentAttributesSchemaVersion,
		Attributes:    json.RawMessage(attributes),
	}
}

func decodeData(t interface{ Fatalf(string, ...any) }, event domain.TimelineEvent) map[string]any {
	data, err := NewAttributesCodec().Payload(event)
	if err != nil {
		t.Fatalf("decode attributes of record %d: %v", event.ID, err)
	}
	return data
}
