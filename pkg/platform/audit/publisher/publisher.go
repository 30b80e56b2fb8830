// Package publisher turns pipeline audit events into outbox entries.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dErrors "iam/pkg/domain-errors"
	"iam/pkg/platform/audit"
	"iam/pkg/platform/audit/outbox"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = dErrors.New(dErrors.CodeUnavailable, "audit publisher closed")

// Publisher writes audit events into the outbox. With an async buffer the
// write happens on a background goroutine so issuance never waits on Postgres.
type Publisher struct {
	store   outbox.Store
	batches chan []audit.Event
	wg      sync.WaitGroup
	logger  *slog.Logger
	now     func() time.Time

	// mu guards closed and sends on batches against Close.
	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithAsyncBuffer queues up to size calls to Emit for background persistence.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.batches = make(chan []audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func New(store outbox.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.batches != nil {
		p.wg.Add(1)
		go p.process()
	}
	return p
}

func (p *Publisher) process() {
	defer p.wg.Done()
	for events := range p.batches {
		if err := p.append(context.Background(), events); err != nil {
			p.logger.Error("failed to persist audit events",
				"error", err,
				"events", len(events),
				"request_id", events[0].RequestID,
			)
		}
	}
}

// Close stops accepting events and waits for the buffer to drain. Emit calls
// racing with or following Close get ErrClosed. Close is idempotent.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.batches != nil {
		close(p.batches)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) Emit(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := p.now().UTC()
	for i := range events {
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = now
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.WarnContext(ctx, "audit publisher closed, events dropped",
			"events", len(events),
			"request_id", events[0].RequestID,
		)
		return ErrClosed
	}
	if p.batches == nil {
		return p.append(ctx, events)
	}
	select {
	case p.batches <- events:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit buffer full, events dropped",
			"events", len(events),
			"request_id", events[0].RequestID,
		)
		return dErrors.New(dErrors.CodeUnavailable, "audit buffer full")
	}
}

// append stores events with strictly increasing creation times (Postgres keeps
// microseconds) so the relay preserves emit order.
func (p *Publisher) append(ctx context.Context, events []audit.Event) error {
	entries := make([]*outbox.Entry, len(events))
	for i, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode audit event: %w", err)
		}
		entries[i] = outbox.NewEntry(event.Provider, string(event.Action), event.RequestID, payload)
		if i > 0 && !entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			entries[i].CreatedAt = entries[i-1].CreatedAt.Add(time.Microsecond)
		}
	}
	return p.store.Append(ctx, entries...)
}
