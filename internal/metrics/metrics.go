package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

var (
	initOnce sync.Once

	capturedCounter       *prometheus.CounterVec
	captureFailedCounter  *prometheus.CounterVec
	processedCounter      *prometheus.CounterVec
	processFailedCounter  *prometheus.CounterVec
	emptyDiffCounter      *prometheus.CounterVec
	processDurationMetric prometheus.Histogram
	replaySkippedCounter  prometheus.Counter
	processRetryCounter   prometheus.Counter
	deadMessageCounter    prometheus.Counter
)

// Init registers collectors on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		capturedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeline_captured_total",
				Help: "Lifecycle events handed to the dispatch queue by event type.",
			},
			[]string{"event_type"},
		)
		captureFailedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeline_capture_failures_total",
				Help: "Lifecycle events that could not be enqueued by event type.",
			},
			[]string{"event_type"},
		)
		processedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeline_records_written_total",
				Help: "Timeline records persisted by event type.",
			},
			[]string{"event_type"},
		)
		processFailedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeline_process_failures_total",
				Help: "Queued messages the processor failed to persist by event type.",
			},
			[]string{"event_type"},
		)
		emptyDiffCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeline_empty_diffs_total",
				Help: "UPDATED messages without field changes by empty-diff policy.",
			},
			[]string{"policy"},
		)
		processDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "timeline_process_duration_seconds",
				Help:    "Time spent processing one queued message.",
				Buckets: prometheus.DefBuckets,
			},
		)
		replaySkippedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timeline_replay_skipped_records_total",
				Help: "Stored records skipped during state reconstruction because they could not be parsed.",
			},
		)

		processRetryCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timeline_process_retries_total",
				Help: "Processing attempts retried after a timeline store failure.",
			},
		)
		deadMessageCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timeline_dead_messages_total",
				Help: "Queued messages dropped after exhausting store retries.",
			},
		)

		prometheus.MustRegister(
			capturedCounter,
			captureFailedCounter,
			processedCounter,
			processFailedCounter,
			emptyDiffCounter,
			processDurationMetric,
			replaySkippedCounter,
			processRetryCounter,
			deadMessageCounter,
		)

		for _, kind := range []domain.EventType{domain.EventCreated, domain.EventUpdated, domain.EventDeleted} {
			capturedCounter.WithLabelValues(string(kind))
			captureFailedCounter.WithLabelValues(string(kind))
			processedCounter.WithLabelValues(string(kind))
			processFailedCounter.WithLabelValues(string(kind))
		}
	})
}

func IncCaptured(kind domain.EventType) {
	Init()
	capturedCounter.WithLabelValues(string(kind)).Inc()
}

func IncCaptureFailed(kind domain.EventType) {
	Init()
	captureFailedCounter.WithLabelValues(string(kind)).Inc()
}

func IncRecordWritten(kind domain.EventType) {
	Init()
	processedCounter.WithLabelValues(string(kind)).Inc()
}

func IncProcessFailed(kind domain.EventType) {
	Init()
	processFailedCounter.WithLabelValues(string(kind)).Inc()
}

func IncEmptyDiff(policy string) {
	Init()
	emptyDiffCounter.WithLabelValues(policy).Inc()
}

func ObserveProcessDuration(d time.Duration) {
	Init()
	processDurationMetric.Observe(d.Seconds())
}

func IncReplaySkipped() {
	Init()
	replaySkippedCounter.Inc()
}

func IncProcessRetry() {
	Init()
	processRetryCounter.Inc()
}

func IncDeadMessage() {
	Init()
	deadMessageCounter.Inc()
}
