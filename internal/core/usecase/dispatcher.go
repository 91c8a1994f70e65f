package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
	"github.com/atvirokodosprendimai/timeline/internal/logging"
	"github.com/atvirokodosprendimai/timeline/internal/metrics"
)

// Dispatcher is the single consumer of the message queue. Messages are
// processed one at a time in dequeue order.
type Dispatcher struct {
	queue      ports.MessageQueue
	processor  *Processor
	logger     *slog.Logger
	retryDelay time.Duration
	maxRetry   int
	backoff    func(attempt int) time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processedTotal atomic.Int64
	failedTotal    atomic.Int64
	skippedTotal   atomic.Int64
	retriedTotal   atomic.Int64
	deadTotal      atomic.Int64
}

// DispatcherMetrics counts handled messages. FailedTotal holds messages
// rejected without retry, DeadTotal those whose store retries ran out.
type DispatcherMetrics struct {
	ProcessedTotal int64 `json:"processedTotal"`
	FailedTotal    int64 `json:"failedTotal"`
	SkippedTotal   int64 `json:"skippedTotal"`
	RetriedTotal   int64 `json:"retriedTotal"`
	DeadTotal      int64 `json:"deadTotal"`
}

func NewDispatcher(queue ports.MessageQueue, processor *Processor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:      queue,
		processor:  processor,
		logger:     logging.OrDefault(logger),
		retryDelay: time.Second,
		maxRetry:   5,
		backoff:    backoffDuration,
	}
}

func (d *Dispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

// Close stops intake and waits until every message already queued has been
// processed.
func (d *Dispatcher) Close() error {
	closeErr := d.queue.Close()
	d.wg.Wait()

	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return closeErr
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	for {
		msg, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			d.logger.Error("dequeue timeline message failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.retryDelay):
			}
			continue
		}
		d.handle(ctx, msg)
	}
}

// handle retries store failures in place. The consumer stalls meanwhile, so
// later messages of the element cannot overtake this one.
func (d *Dispatcher) handle(ctx context.Context, msg domain.TimelineMessage) {
	for attempt := 1; ; attempt++ {
		started := time.Now()
		event, written, err := d.processor.Process(ctx, msg)
		metrics.ObserveProcessDuration(time.Since(started))

		switch {
		case err == nil && !written:
			d.skippedTotal.Add(1)
			return
		case err == nil:
			d.processedTotal.Add(1)
			metrics.IncRecordWritten(event.EventType)
			return
		case !errors.Is(err, domain.ErrStoreUnavailable):
			d.failedTotal.Add(1)
			metrics.IncProcessFailed(msg.EventType)
			d.logFailure("process timeline message failed", msg, attempt, err)
			return
		case attempt >= d.maxRetry:
			d.deadTotal.Add(1)
			metrics.IncProcessFailed(msg.EventType)
			metrics.IncDeadMessage()
			d.logFailure("timeline message dead after retries", msg, attempt, err)
			return
		}

		wait := d.backoff(attempt)
		d.retriedTotal.Add(1)
		metrics.IncProcessRetry()
		d.logger.Warn("timeline store unavailable, retrying",
			"event_type", string(msg.EventType),
			"element_type", msg.ElementType,
			"element_id", msg.ElementID,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			d.deadTotal.Add(1)
			metrics.IncProcessFailed(msg.EventType)
			metrics.IncDeadMessage()
			d.logFailure("timeline message abandoned on shutdown", msg, attempt, err)
			return
		case <-time.After(wait):
		}
	}
}

func (d *Dispatcher) logFailure(text string, msg domain.TimelineMessage, attempt int, err error) {
	d.logger.Error(text,
		"event_type", string(msg.EventType),
		"element_type", msg.ElementType,
		"element_id", msg.ElementID,
		"tenant", msg.Tenant,
		"attempt", attempt,
		"error", err,
	)
}

func (d *Dispatcher) Metrics() DispatcherMetrics {
	return DispatcherMetrics{
		ProcessedTotal: d.processedTotal.Load(),
		FailedTotal:    d.failedTotal.Load(),
		SkippedTotal:   d.skippedTotal.Load(),
		RetriedTotal:   d.retriedTotal.Load(),
		DeadTotal:      d.deadTotal.Load(),
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
