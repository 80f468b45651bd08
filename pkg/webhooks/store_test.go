package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/myportal/portal/pkg/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func eventRow(id int64, status Status) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "name", "target_url", "payload", "headers", "max_attempts", "backoff_seconds",
		"attempts_made", "status", "response_status", "last_error", "next_attempt_at",
		"claimed_at", "created_at", "updated_at",
	}).AddRow(id, "license-change", "https://hooks.example.com/x", []byte(`{}`),
		`{"X-Signature":"abc"}`, 3, 300, 1, status, 500, "retryable status 500",
		now, nil, now, now)
}

func TestStore_Insert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO webhook_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	ev := &Event{
		Name: "license-change", TargetURL: "https://hooks.example.com/x",
		Payload: []byte(`{}`), MaxAttempts: 3, BackoffSeconds: 300, Status: StatusPending,
	}
	require.NoError(t, store.Insert(context.Background(), ev))
	require.Equal(t, int64(9), ev.ID)
}

func TestStore_GetByID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM webhook_events WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnRows(eventRow(9, StatusRetrying))

	ev, err := store.GetByID(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, StatusRetrying, ev.Status)
	require.Equal(t, "abc", ev.Headers["X-Signature"])
	require.NotNil(t, ev.ResponseStatus)
	require.Equal(t, 500, *ev.ResponseStatus)

	mock.ExpectQuery(`SELECT .+ FROM webhook_events WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = store.GetByID(context.Background(), 404)
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStore_ClaimDue(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE webhook_events\s+SET status = 'in_flight'.+FOR UPDATE SKIP LOCKED`).
		WillReturnRows(eventRow(9, StatusInFlight))

	events, err := store.ClaimDue(context.Background(), 10, time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, StatusInFlight, events[0].Status)
}

func TestStore_MarkRetrying(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE webhook_events\s+SET status = 'retrying'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	status := 500
	err := store.MarkRetrying(context.Background(), 9, &status, "retryable status 500", 1, time.Now().Add(5*time.Minute))
	require.NoError(t, err)
}

func TestStore_MarkSucceeded_MissingEvent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE webhook_events\s+SET status = 'succeeded'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkSucceeded(context.Background(), 404, 200, 1)
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStore_ReclaimStale(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE webhook_events\s+SET status = 'retrying'.+WHERE status = 'in_flight' AND claimed_at <`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.ReclaimStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
