package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/myportal/portal/pkg/auth"
)

// Store persists outbound events. Every state transition happens under
// the event row's write lock so concurrent workers cannot double-deliver.
type Store struct {
	db *sql.DB
}

// NewStore creates an event store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const eventColumns = `id, name, target_url, payload, headers, max_attempts, backoff_seconds,
	attempts_made, status, response_status, last_error, next_attempt_at, claimed_at, created_at, updated_at`

// CountByStatus returns the queue depth per status. Feeds the queue
// gauge.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM webhook_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by status: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Insert writes a new event in the given status and fills in its id.
func (s *Store) Insert(ctx context.Context, ev *Event) error {
	headersJSON, err := json.Marshal(ev.Headers)
	if err != nil {
		return fmt.Errorf("marshalling event headers: %w", err)
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events
			(name, target_url, payload, headers, max_attempts, backoff_seconds,
			 attempts_made, status, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)
		RETURNING id`,
		ev.Name, ev.TargetURL, []byte(ev.Payload), string(headersJSON),
		ev.MaxAttempts, ev.BackoffSeconds, ev.Status, ev.NextAttemptAt, now,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("inserting event %q: %w", ev.Name, err)
	}
	ev.CreatedAt = now
	ev.UpdatedAt = now
	return nil
}

// GetByID fetches one event.
func (s *Store) GetByID(ctx context.Context, id int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return ev, err
}

// List returns events matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE 1=1`
	var args []any
	n := 0
	if filter.Status != "" {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, filter.Status)
	}
	if filter.Name != "" {
		n++
		query += fmt.Sprintf(" AND name = $%d", n)
		args = append(args, filter.Name)
	}
	if filter.OlderThan != nil {
		n++
		query += fmt.Sprintf(" AND created_at < $%d", n)
		args = append(args, *filter.OlderThan)
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// Claim moves one specific event to in_flight if it is still claimable.
// Returns ErrConflict when another worker got there first or the event is
// already terminal.
func (s *Store) Claim(ctx context.Context, id int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE webhook_events
		SET status = 'in_flight', claimed_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'retrying')
		RETURNING `+eventColumns, id, time.Now().UTC())
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("event %d not claimable: %w", id, auth.ErrConflict)
	}
	return ev, err
}

// ClaimDue claims up to limit events whose next attempt is due. SKIP
// LOCKED keeps concurrent sweepers off each other's rows.
func (s *Store) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE webhook_events
		SET status = 'in_flight', claimed_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE status IN ('pending', 'retrying')
			  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
			ORDER BY next_attempt_at NULLS FIRST
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns, limit, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("claiming due events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claimed events: %w", err)
	}
	return out, nil
}

// MarkSucceeded records a terminal success.
func (s *Store) MarkSucceeded(ctx context.Context, id int64, responseStatus, attemptsMade int) error {
	return s.transition(ctx, id, `
		UPDATE webhook_events
		SET status = 'succeeded', response_status = $2, attempts_made = $3,
		    last_error = '', claimed_at = NULL, next_attempt_at = NULL, updated_at = $4
		WHERE id = $1`, responseStatus, attemptsMade, time.Now().UTC())
}

// MarkFailed records a terminal failure.
func (s *Store) MarkFailed(ctx context.Context, id int64, responseStatus *int, lastError string, attemptsMade int) error {
	return s.transition(ctx, id, `
		UPDATE webhook_events
		SET status = 'failed', response_status = $2, attempts_made = $3,
		    last_error = $4, claimed_at = NULL, next_attempt_at = NULL, updated_at = $5
		WHERE id = $1`, responseStatus, attemptsMade, lastError, time.Now().UTC())
}

// MarkRetrying schedules the next attempt.
func (s *Store) MarkRetrying(ctx context.Context, id int64, responseStatus *int, lastError string, attemptsMade int, nextAt time.Time) error {
	return s.transition(ctx, id, `
		UPDATE webhook_events
		SET status = 'retrying', response_status = $2, attempts_made = $3,
		    last_error = $4, claimed_at = NULL, next_attempt_at = $5, updated_at = $6
		WHERE id = $1`, responseStatus, attemptsMade, lastError, nextAt.UTC(), time.Now().UTC())
}

// Release puts a claimed event back to pending without consuming an
// attempt, used when an immediate attempt was cancelled mid-flight.
func (s *Store) Release(ctx context.Context, id int64) error {
	return s.transition(ctx, id, `
		UPDATE webhook_events
		SET status = 'pending', claimed_at = NULL, updated_at = $2
		WHERE id = $1`, time.Now().UTC())
}

// ReclaimStale re-queues in_flight events whose worker died mid-attempt.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = 'retrying', claimed_at = NULL, next_attempt_at = $2, updated_at = $2
		WHERE status = 'in_flight' AND claimed_at < $1`,
		now.Add(-olderThan), now)
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale events: %w", err)
	}
	return n, nil
}

func (s *Store) transition(ctx context.Context, id int64, query string, args ...any) error {
	all := append([]any{id}, args...)
	res, err := s.db.ExecContext(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("updating event %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating event %d: %w", id, err)
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var payload []byte
	var headersJSON string
	var responseStatus sql.NullInt64
	var lastError sql.NullString
	var nextAttemptAt, claimedAt sql.NullTime

	err := row.Scan(&ev.ID, &ev.Name, &ev.TargetURL, &payload, &headersJSON,
		&ev.MaxAttempts, &ev.BackoffSeconds, &ev.AttemptsMade, &ev.Status,
		&responseStatus, &lastError, &nextAttemptAt, &claimedAt,
		&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning event: %w", err)
	}

	ev.Payload = json.RawMessage(payload)
	if headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &ev.Headers); err != nil {
			return nil, fmt.Errorf("unmarshalling headers for event %d: %w", ev.ID, err)
		}
	}
	if responseStatus.Valid {
		status := int(responseStatus.Int64)
		ev.ResponseStatus = &status
	}
	ev.LastError = lastError.String
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		ev.NextAttemptAt = &t
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		ev.ClaimedAt = &t
	}
	return &ev, nil
}
