// Package memory is an in-process outbox.Store for tests and single-node development.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"iam/pkg/platform/audit/outbox"
)

type record struct {
	entry       outbox.Entry
	lockedUntil time.Time
}

type Store struct {
	mu      sync.Mutex
	records map[uuid.UUID]*record
	lease   time.Duration
	now     func() time.Time
}

type Option func(*Store)

func WithLease(d time.Duration) Option {
	return func(s *Store) { s.lease = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[uuid.UUID]*record),
		lease:   30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Append(_ context.Context, entries ...*outbox.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.records[e.ID]; ok {
			return fmt.Errorf("duplicate outbox entry %s", e.ID)
		}
	}
	for _, e := range entries {
		s.records[e.ID] = &record{entry: *e}
	}
	return nil
}

func (s *Store) Claim(_ context.Context, limit, maxAttempts int) ([]*outbox.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var claimable []*record
	for _, r := range s.records {
		if r.entry.Pending() && r.entry.Attempts < maxAttempts && !now.Before(r.lockedUntil) {
			claimable = append(claimable, r)
		}
	}
	slices.SortFunc(claimable, func(a, b *record) int { return a.entry.CreatedAt.Compare(b.entry.CreatedAt) })
	if len(claimable) > limit {
		claimable = claimable[:limit]
	}

	out := make([]*outbox.Entry, 0, len(claimable))
	for _, r := range claimable {
		r.lockedUntil = now.Add(s.lease)
		cp := r.entry
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if r, ok := s.records[id]; ok && r.entry.Pending() {
			r.entry.PublishedAt = &at
			r.lockedUntil = time.Time{}
		}
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("outbox entry not found: %s", id)
	}
	r.entry.Attempts++
	r.entry.LastError = reason
	r.lockedUntil = time.Time{}
	return nil
}

func (s *Store) Stats(_ context.Context, maxAttempts int) (outbox.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st outbox.Stats
	for _, r := range s.records {
		switch {
		case !r.entry.Pending():
		case r.entry.Attempts >= maxAttempts:
			st.Dead++
		default:
			st.Pending++
		}
	}
	return st, nil
}

func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if r.entry.PublishedAt != nil && r.entry.PublishedAt.Before(before) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Entry returns a copy of the stored entry, for assertions.
func (s *Store) Entry(id uuid.UUID) (outbox.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return outbox.Entry{}, false
	}
	return r.entry, true
}
