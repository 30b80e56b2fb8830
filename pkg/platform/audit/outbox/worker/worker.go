// Package worker relays claimed audit outbox entries to Kafka.
package worker

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"iam/internal/platform/kafka/producer"
	"iam/pkg/platform/audit/outbox"
	"iam/pkg/platform/audit/outbox/metrics"
)

type Worker struct {
	store        outbox.Store
	publisher    producer.Publisher
	topic        string
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	retention    time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Worker)

func WithTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts bounds publish attempts per entry; exhausted entries stay in
// the table as dead letters.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithRetention sets how long published entries are kept. Zero disables purging.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		w.retention = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func New(store outbox.Store, publisher producer.Publisher, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		publisher:    publisher,
		topic:        "iam.audit-events",
		batchSize:    100,
		maxAttempts:  10,
		pollInterval: 250 * time.Millisecond,
		retention:    7 * 24 * time.Hour,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled, then drains what is left with a short deadline.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			w.drain(drainCtx)
			cancel()
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		case <-purge.C:
			w.purge(ctx)
		}
	}
}

// Poll relays one claimed batch and returns how many entries were published.
func (w *Worker) Poll(ctx context.Context) int {
	entries, err := w.store.Claim(ctx, w.batchSize, w.maxAttempts)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to claim outbox entries", "error", err)
		w.incFailures()
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	start := w.now()
	msgs := make([]*producer.Message, len(entries))
	for i, e := range entries {
		msgs[i] = w.message(e)
	}
	errs := w.publisher.Produce(ctx, msgs...)

	published := make([]uuid.UUID, 0, len(entries))
	for i, e := range entries {
		if errs != nil && errs[i] != nil {
			w.fail(ctx, e, errs[i])
			continue
		}
		published = append(published, e.ID)
		if w.metrics != nil {
			w.metrics.PublishedTotal.WithLabelValues(e.Action).Inc()
		}
	}

	// Published but unmarked entries are re-sent once the lease runs out;
	// consumers dedupe on the entry_id header.
	if err := w.store.MarkPublished(ctx, published, w.now()); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark entries published", "count", len(published), "error", err)
	}

	if w.metrics != nil {
		w.metrics.BatchSize.Observe(float64(len(entries)))
		w.metrics.BatchDuration.Observe(w.now().Sub(start).Seconds())
		if st, err := w.store.Stats(ctx, w.maxAttempts); err == nil {
			w.metrics.Pending.Set(float64(st.Pending))
			w.metrics.Dead.Set(float64(st.Dead))
		}
	}
	return len(published)
}

func (w *Worker) message(e *outbox.Entry) *producer.Message {
	return &producer.Message{
		Topic: w.topic,
		Key:   e.PartitionKey(),
		Value: e.Payload,
		Headers: map[string]string{
			"entry_id":   e.ID.String(),
			"provider":   e.Provider,
			"action":     e.Action,
			"request_id": e.RequestID,
			"attempt":    strconv.Itoa(e.Attempts + 1),
		},
	}
}

func (w *Worker) fail(ctx context.Context, e *outbox.Entry, cause error) {
	w.incFailures()
	if err := w.store.MarkFailed(ctx, e.ID, cause.Error()); err != nil {
		w.logger.ErrorContext(ctx, "failed to record publish failure", "id", e.ID, "error", err)
		return
	}
	if e.Attempts+1 >= w.maxAttempts {
		w.logger.ErrorContext(ctx, "audit entry dead-lettered",
			"id", e.ID,
			"provider", e.Provider,
			"action", e.Action,
			"attempts", e.Attempts+1,
			"error", cause,
		)
		if w.metrics != nil {
			w.metrics.DeadLettered.Inc()
		}
		return
	}
	w.logger.WarnContext(ctx, "audit entry publish failed",
		"id", e.ID,
		"action", e.Action,
		"attempt", e.Attempts+1,
		"error", cause,
	)
}

func (w *Worker) drain(ctx context.Context) {
	w.logger.InfoContext(ctx, "draining audit outbox")
	for ctx.Err() == nil {
		if w.Poll(ctx) == 0 {
			return
		}
	}
}

func (w *Worker) purge(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	n, err := w.store.Purge(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.logger.WarnContext(ctx, "failed to purge audit outbox", "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.PurgedTotal.Add(float64(n))
	}
}

func (w *Worker) incFailures() {
	if w.metrics != nil {
		w.metrics.PublishFailures.Inc()
	}
}
