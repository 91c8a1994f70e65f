package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

func TestDispatcherProcessesInQueueOrder(t *testing.T) {
	store := &memTimelineStore{}
	q := newChanQueue()
	d := NewDispatcher(q, newTestProcessor(t, store, ProcessorOptions{}), nil)
	ctx := context.Background()

	steps := []struct {
		id    string
		kind  domain.EventType
		title string
	}{
		{"a1", domain.EventCreated, "A"},
		{"a2", domain.EventCreated, "X"},
		{"a1", domain.EventUpdated, "B"},
		{"a1", domain.EventUpdated, "C"},
		{"a2", domain.EventDeleted, "X"},
		{"a1", domain.EventUpdated, "D"},
	}
	for _, s := range steps {
		msg := articleMessage(s.kind, map[string]any{"title": s.title})
		msg.ElementID = s.id
		require.NoError(t, q.Enqueue(ctx, msg))
	}

	d.Start(ctx)
	require.NoError(t, d.Close())

	events := store.all()
	require.Len(t, events, len(steps))
	for i, s := range steps {
		assert.Equal(t, s.id, events[i].ElementID, "record %d", i)
		assert.Equal(t, s.kind, events[i].EventType, "record %d", i)
	}

	history, err := store.FindHistory(ctx, "a1", "Article")
	require.NoError(t, err)
	state := NewStateReconstructor(nil, nil).Reconstruct(history)
	assert.Equal(t, "D", state["title"])

	m := d.Metrics()
	assert.Equal(t, int64(len(steps)), m.ProcessedTotal)
	assert.Zero(t, m.FailedTotal)
}

func TestDispatcherContinuesAfterFailure(t *testing.T) {
	store := &memTimelineStore{}
	q := newChanQueue()
	d := NewDispatcher(q, newTestProcessor(t, store, ProcessorOptions{EmptyDiff: EmptyDiffSkip}), nil)
	ctx := context.Background()

	bad := articleMessage(domain.EventCreated, map[string]any{})
	bad.ElementType = "Unknown"
	require.NoError(t, q.Enqueue(ctx, bad))
	require.NoError(t, q.Enqueue(ctx, articleMessage(domain.EventCreated, map[string]any{"title": "A"})))
	require.NoError(t, q.Enqueue(ctx, articleMessage(domain.EventUpdated, map[string]any{"title": "A"})))

	d.Start(ctx)
	require.NoError(t, d.Close())

	assert.Len(t, store.all(), 1)
	assert.Equal(t, DispatcherMetrics{ProcessedTotal: 1, FailedTotal: 1, SkippedTotal: 1}, d.Metrics())
}

func TestDispatcherCloseWithoutStart(t *testing.T) {
	d := NewDispatcher(newChanQueue(), newTestProcessor(t, &memTimelineStore{}, ProcessorOptions{}), nil)
	require.NoError(t, d.Close())
	assert.Equal(t, DispatcherMetrics{}, d.Metrics())
}

func TestDispatcherStartIsIdempotent(t *testing.T) {
	store := &memTimelineStore{}
	q := newChanQueue()
	d := NewDispatcher(q, newTestProcessor(t, store, ProcessorOptions{}), nil)
	ctx := context.Background()

	d.Start(ctx)
	d.Start(ctx)
	require.NoError(t, q.Enqueue(ctx, articleMessage(domain.EventCreated, map[string]any{"title": "A"})))
	require.NoError(t, d.Close())

	assert.Len(t, store.all(), 1)
}

func newRetryingDispatcher(t *testing.T, q *chanQueue, store *memTimelineStore) *Dispatcher {
	t.Helper()
	d := NewDispatcher(q, newTestProcessor(t, store, ProcessorOptions{}), nil)
	d.backoff = func(int) time.Duration { return time.Millisecond }
	return d
}

func TestDispatcherRetriesStoreFailuresInOrder(t *testing.T) {
	store := &memTimelineStore{appendFailures: 1}
	q := newChanQueue()
	d := newRetryingDispatcher(t, q, store)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, articleMessage(domain.EventCreated, map[string]any{"title": "A"})))
	require.NoError(t, q.Enqueue(ctx, articleMessage(domain.EventUpdated, map[string]any{"title": "B"})))

	d.Start(ctx)
	require.NoError(t, d.Close())

	events := store.all()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventCreated, events[0].EventType)
	assert.Equal(t, domain.EventUpdated, events[1].EventType)
	assert.Equal(t, map[string]any{"old": "A", "new": "B"}, decodeData(t, events[1])["title"])
	assert.Equal(t, DispatcherMetrics{ProcessedTotal: 2, RetriedTotal: 1}, d.Metrics())
}

func TestDispatcherGivesUpAfterMaxRetry(t *testing.T) {
	store := &memTimelineStore{appendFailures: 100}
	q := newChanQueue()
	d := newRetryingDispatcher(t, q, store)
	d.maxRetry = 3
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, articleMessage(domain.EventCreated, map[string]any{"title": "A"})))

	d.Start(ctx)
	require.NoError(t, d.Close())

	assert.Empty(t, store.all())
	assert.Equal(t, DispatcherMetrics{RetriedTotal: 2, DeadTotal: 1}, d.Metrics())
}

func TestDispatcherDoesNotRetryInvalidMessages(t *testing.T) {
	store := &memTimelineStore{}
	q := newChanQueue()
	d := newRetryingDispatcher(t, q, store)
	ctx := context.Background()

	bad := articleMessage(domain.EventCreated, map[string]any{"title": "A"})
	bad.Tenant = ""
	require.NoError(t, q.Enqueue(ctx, bad))

	d.Start(ctx)
	require.NoError(t, d.Close())

	assert.Equal(t, DispatcherMetrics{FailedTotal: 1}, d.Metrics())
}

func TestBackoffDuration(t *testing.T) {
	assert.Equal(t, time.Second, backoffDuration(1))
	assert.Equal(t, 4*time.Second, backoffDuration(2))
	assert.Equal(t, 5*time.Minute, backoffDuration(100))
}
