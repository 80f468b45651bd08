package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/myportal/portal/pkg/auth"
)

// Store persists and queries audit rows.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert appends one row. Callers wanting the log-and-continue behaviour
// go through Writer instead.
func (s *Store) Insert(ctx context.Context, e *Entry) error {
	var metadataJSON []byte
	if e.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling audit metadata: %w", err)
		}
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs
			(action, user_id, entity_type, entity_id, previous_value, new_value,
			 metadata, ip_address, user_agent, request_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		e.Action, e.UserID, nullStr(e.EntityType), e.EntityID,
		nullRaw(e.PreviousValue), nullRaw(e.NewValue), nullBytes(metadataJSON),
		nullStr(e.IPAddress), nullStr(e.UserAgent), nullStr(e.RequestPath), e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("inserting audit row: %w", err)
	}
	return nil
}

// Get fetches one row by id.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, action, user_id, entity_type, entity_id, previous_value, new_value,
		       metadata, ip_address, user_agent, request_path, created_at
		FROM audit_logs WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return e, err
}

// Search returns rows matching the filter, newest first.
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	query := `
		SELECT id, action, user_id, entity_type, entity_id, previous_value, new_value,
		       metadata, ip_address, user_agent, request_path, created_at
		FROM audit_logs WHERE 1=1`
	var args []any
	n := 0
	add := func(clause string, arg any) {
		n++
		query += fmt.Sprintf(" AND "+clause, n)
		args = append(args, arg)
	}

	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("created_at < $%d", *filter.Until)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC"
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)
	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching audit rows: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var userID sql.NullInt64
	var entityType, entityID, ip, ua, path sql.NullString
	var prev, next, metadata []byte

	err := row.Scan(&e.ID, &e.Action, &userID, &entityType, &entityID,
		&prev, &next, &metadata, &ip, &ua, &path, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning audit row: %w", err)
	}

	if userID.Valid {
		e.UserID = &userID.Int64
	}
	e.EntityType = entityType.String
	if entityID.Valid {
		e.EntityID = &entityID.String
	}
	e.PreviousValue = json.RawMessage(prev)
	e.NewValue = json.RawMessage(next)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling audit metadata for row %d: %w", e.ID, err)
		}
	}
	e.IPAddress = ip.String
	e.UserAgent = ua.String
	e.RequestPath = path.String
	return &e, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullRaw(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
