package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/myportal/portal/pkg/auth"
)

// Recipient is the slice of a user the dispatcher needs.
type Recipient struct {
	ID       int64
	Email    string
	Disabled bool
}

// Store persists notifications, channel preferences, and per-type policy.
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert appends one in-app notification.
func (s *Store) Insert(ctx context.Context, n *Notification) error {
	var metadataJSON []byte
	if n.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling notification metadata: %w", err)
		}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (user_id, event_type, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		n.UserID, n.EventType, n.Message, metadataJSON, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListForUser returns a user's notifications, newest first.
func (s *Store) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, user_id, event_type, message, metadata, read_at, created_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += " AND read_at IS NULL"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $2"

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		var metadata []byte
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.EventType, &n.Message,
			&metadata, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshalling notification metadata for row %d: %w", n.ID, err)
			}
		}
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return out, nil
}

// MarkRead stamps one notification, scoped to its owner.
func (s *Store) MarkRead(ctx context.Context, id, userID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = NOW()
		WHERE id = $1 AND user_id = $2 AND read_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// Preference returns the user's channel choices for the event type,
// DefaultPreference when the user never stored any.
func (s *Store) Preference(ctx context.Context, userID int64, eventType string) (Preference, error) {
	p := Preference{UserID: userID, EventType: eventType}
	err := s.db.QueryRowContext(ctx, `
		SELECT in_app, email, sms FROM notification_preferences
		WHERE user_id = $1 AND event_type = $2`, userID, eventType,
	).Scan(&p.InApp, &p.Email, &p.SMS)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreference(userID, eventType), nil
	}
	if err != nil {
		return Preference{}, fmt.Errorf("loading preference: %w", err)
	}
	return p, nil
}

// SetPreference upserts the user's channel choices for one event type.
func (s *Store) SetPreference(ctx context.Context, p Preference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, event_type, in_app, email, sms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, event_type)
		DO UPDATE SET in_app = EXCLUDED.in_app, email = EXCLUDED.email, sms = EXCLUDED.sms`,
		p.UserID, p.EventType, p.InApp, p.Email, p.SMS)
	if err != nil {
		return fmt.Errorf("saving preference: %w", err)
	}
	return nil
}

// TypePolicy returns the administrator ceiling for the event type,
// DefaultTypePolicy when none was stored.
func (s *Store) TypePolicy(ctx context.Context, eventType string) (TypePolicy, error) {
	p := TypePolicy{EventType: eventType}
	err := s.db.QueryRowContext(ctx, `
		SELECT allow_in_app, allow_email, allow_sms FROM notification_type_settings
		WHERE event_type = $1`, eventType,
	).Scan(&p.AllowInApp, &p.AllowEmail, &p.AllowSMS)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultTypePolicy(eventType), nil
	}
	if err != nil {
		return TypePolicy{}, fmt.Errorf("loading type policy: %w", err)
	}
	return p, nil
}

// SetTypePolicy upserts the ceiling for one event type.
func (s *Store) SetTypePolicy(ctx context.Context, p TypePolicy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_type_settings (event_type, allow_in_app, allow_email, allow_sms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_type)
		DO UPDATE SET allow_in_app = EXCLUDED.allow_in_app,
		              allow_email = EXCLUDED.allow_email,
		              allow_sms = EXCLUDED.allow_sms`,
		p.EventType, p.AllowInApp, p.AllowEmail, p.AllowSMS)
	if err != nil {
		return fmt.Errorf("saving type policy: %w", err)
	}
	return nil
}

// GetRecipient loads one user for delivery.
func (s *Store) GetRecipient(ctx context.Context, userID int64) (*Recipient, error) {
	var r Recipient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, disabled FROM users WHERE id = $1`, userID,
	).Scan(&r.ID, &r.Email, &r.Disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading recipient: %w", err)
	}
	return &r, nil
}

// ActiveRecipients returns every enabled user who has not suppressed the
// event type. Suppressed means an explicit preference row with every
// channel off; users with no row are included.
func (s *Store) ActiveRecipients(ctx context.Context, eventType string) ([]*Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.disabled
		FROM users u
		LEFT JOIN notification_preferences p
		  ON p.user_id = u.id AND p.event_type = $1
		WHERE NOT u.disabled
		  AND COALESCE(p.in_app OR p.email OR p.sms, TRUE)
		ORDER BY u.id`, eventType)
	if err != nil {
		return nil, fmt.Errorf("listing recipients: %w", err)
	}
	defer rows.Close()

	var out []*Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.Email, &r.Disabled); err != nil {
			return nil, fmt.Errorf("scanning recipient: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recipients: %w", err)
	}
	return out, nil
}
