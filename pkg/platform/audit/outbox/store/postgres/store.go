package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"iam/pkg/platform/audit/outbox"
)

const maxBatch = 1000

// Store implements outbox.Store on the credential_audit_outbox table.
type Store struct {
	db    *sql.DB
	lease time.Duration
}

type Option func(*Store)

// WithLease sets how long a claim hides rows from other workers.
func WithLease(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lease = d
		}
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, lease: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Append(ctx context.Context, entries ...*outbox.Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO credential_audit_outbox (id, provider, action, request_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("prepare outbox insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err = stmt.ExecContext(ctx, e.ID, e.Provider, e.Action, e.RequestID, e.Payload, e.CreatedAt); err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox append: %w", err)
	}
	return nil
}

// Claim leases rows with a single UPDATE; SKIP LOCKED keeps concurrent
// workers from claiming the same rows.
func (s *Store) Claim(ctx context.Context, limit, maxAttempts int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	limit = min(limit, maxBatch)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE credential_audit_outbox
		SET locked_until = NOW() + make_interval(secs => $3)
		WHERE id IN (
			SELECT id FROM credential_audit_outbox
			WHERE published_at IS NULL
			  AND attempts < $2
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, provider, action, request_id, payload, created_at, attempts, last_error
	`, limit, maxAttempts, s.lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []*outbox.Entry
	for rows.Next() {
		var e outbox.Entry
		if err := rows.Scan(&e.ID, &e.Provider, &e.Action, &e.RequestID, &e.Payload, &e.CreatedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	// RETURNING does not preserve the subquery order.
	slices.SortFunc(entries, func(a, b *outbox.Entry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return entries, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE credential_audit_outbox
		SET published_at = $2, locked_until = NULL
		WHERE id = ANY($1::uuid[]) AND published_at IS NULL
	`, strs, at); err != nil {
		return fmt.Errorf("mark outbox entries published: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credential_audit_outbox
		SET attempts = attempts + 1, last_error = $2, locked_until = NULL
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox entry failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("outbox entry not found: %s", id)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, maxAttempts int) (outbox.Stats, error) {
	var st outbox.Stats
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE attempts < $1),
			COUNT(*) FILTER (WHERE attempts >= $1)
		FROM credential_audit_outbox
		WHERE published_at IS NULL
	`, maxAttempts).Scan(&st.Pending, &st.Dead); err != nil {
		return outbox.Stats{}, fmt.Errorf("count outbox entries: %w", err)
	}
	return st, nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM credential_audit_outbox WHERE published_at IS NOT NULL AND published_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge outbox entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
