package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLKeyStore persists API keys in PostgreSQL.
//
// Layout: api_keys keyed by digest; api_key_permissions holds one row per
// {path, method} combination; api_key_ip_restrictions one row per CIDR;
// api_key_usage one counter row per (key, ip).
type SQLKeyStore struct {
	db *sql.DB
}

// NewSQLKeyStore creates a key store on db.
func NewSQLKeyStore(db *sql.DB) *SQLKeyStore {
	return &SQLKeyStore{db: db}
}

// GetByDigest implements KeyStore.
func (s *SQLKeyStore) GetByDigest(ctx context.Context, digest string) (*APIKey, error) {
	query := `
		SELECT id, digest, prefix, description, expires_on, created_at, last_used_at
		FROM api_keys
		WHERE digest = $1
	`

	var key APIKey
	var description sql.NullString
	var expiresOn, lastUsedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, digest).Scan(
		&key.ID,
		&key.Digest,
		&key.Prefix,
		&description,
		&expiresOn,
		&key.CreatedAt,
		&lastUsedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}

	if description.Valid {
		key.Description = description.String
	}
	if expiresOn.Valid {
		t := expiresOn.Time
		key.ExpiresOn = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		key.LastUsedAt = &t
	}

	if key.Permissions, err = s.loadPermissions(ctx, key.ID); err != nil {
		return nil, err
	}
	if key.IPRestrictions, err = s.loadIPRestrictions(ctx, key.ID); err != nil {
		return nil, err
	}

	return &key, nil
}

// loadPermissions collapses the per-{path, method} rows back into rules.
func (s *SQLKeyStore) loadPermissions(ctx context.Context, keyID int64) ([]RoutePermission, error) {
	query := `
		SELECT path, method
		FROM api_key_permissions
		WHERE api_key_id = $1
		ORDER BY path, method
	`

	rows, err := s.db.QueryContext(ctx, query, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load key permissions: %w", err)
	}
	defer rows.Close()

	var perms []RoutePermission
	for rows.Next() {
		var path, method string
		if err := rows.Scan(&path, &method); err != nil {
			return nil, fmt.Errorf("failed to scan key permission: %w", err)
		}
		if n := len(perms); n > 0 && perms[n-1].Path == path {
			perms[n-1].Methods = append(perms[n-1].Methods, method)
			continue
		}
		perms = append(perms, RoutePermission{Path: path, Methods: []string{method}})
	}

	return perms, rows.Err()
}

func (s *SQLKeyStore) loadIPRestrictions(ctx context.Context, keyID int64) ([]string, error) {
	query := `
		SELECT cidr
		FROM api_key_ip_restrictions
		WHERE api_key_id = $1
		ORDER BY cidr
	`

	rows, err := s.db.QueryContext(ctx, query, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load key ip restrictions: %w", err)
	}
	defer rows.Close()

	var cidrs []string
	for rows.Next() {
		var cidr string
		if err := rows.Scan(&cidr); err != nil {
			return nil, fmt.Errorf("failed to scan cidr: %w", err)
		}
		cidrs = append(cidrs, cidr)
	}

	return cidrs, rows.Err()
}

// RecordUsage implements KeyStore. The counter is written under an upsert so
// concurrent hits accumulate without lost updates.
func (s *SQLKeyStore) RecordUsage(ctx context.Context, keyID int64, ip string) error {
	now := time.Now().UTC()

	upsert := `
		INSERT INTO api_key_usage (api_key_id, ip_address, count, last_used_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (api_key_id, ip_address)
		DO UPDATE SET count = api_key_usage.count + 1, last_used_at = $3
	`
	if _, err := s.db.ExecContext(ctx, upsert, keyID, ip, now); err != nil {
		return fmt.Errorf("failed to record key usage: %w", err)
	}

	touch := `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, touch, now, keyID); err != nil {
		return fmt.Errorf("failed to touch key last_used_at: %w", err)
	}

	return nil
}

// Create stores a new key record alongside its allow-lists. The caller holds
// the cleartext; only the digest is persisted.
func (s *SQLKeyStore) Create(ctx context.Context, key *APIKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
		INSERT INTO api_keys (digest, prefix, description, expires_on, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, query,
		key.Digest,
		key.Prefix,
		nullString(key.Description),
		key.ExpiresOn,
		now,
	).Scan(&key.ID)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	key.CreatedAt = now

	for _, rule := range key.Permissions {
		for _, method := range rule.Methods {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO api_key_permissions (api_key_id, path, method) VALUES ($1, $2, $3)`,
				key.ID, rule.Path, method,
			)
			if err != nil {
				return fmt.Errorf("failed to insert key permission: %w", err)
			}
		}
	}

	for _, cidr := range key.IPRestrictions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO api_key_ip_restrictions (api_key_id, cidr) VALUES ($1, $2)`,
			key.ID, cidr,
		)
		if err != nil {
			return fmt.Errorf("failed to insert key ip restriction: %w", err)
		}
	}

	return tx.Commit()
}

// List returns all keys, newest first, without allow-lists loaded.
func (s *SQLKeyStore) List(ctx context.Context) ([]APIKey, error) {
	query := `
		SELECT id, digest, prefix, description, expires_on, created_at, last_used_at
		FROM api_keys
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var key APIKey
		var description sql.NullString
		var expiresOn, lastUsedAt sql.NullTime

		err := rows.Scan(
			&key.ID,
			&key.Digest,
			&key.Prefix,
			&description,
			&expiresOn,
			&key.CreatedAt,
			&lastUsedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}

		if description.Valid {
			key.Description = description.String
		}
		if expiresOn.Valid {
			t := expiresOn.Time
			key.ExpiresOn = &t
		}
		if lastUsedAt.Valid {
			t := lastUsedAt.Time
			key.LastUsedAt = &t
		}

		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// Delete removes a key and, through FK cascade, its allow-lists and usage.
func (s *SQLKeyStore) Delete(ctx context.Context, keyID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsage returns the per-IP counters for a key, most recent first.
func (s *SQLKeyStore) ListUsage(ctx context.Context, keyID int64) ([]KeyUsage, error) {
	query := `
		SELECT api_key_id, ip_address, count, last_used_at
		FROM api_key_usage
		WHERE api_key_id = $1
		ORDER BY last_used_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list key usage: %w", err)
	}
	defer rows.Close()

	var usages []KeyUsage
	for rows.Next() {
		var u KeyUsage
		if err := rows.Scan(&u.KeyID, &u.IPAddress, &u.Count, &u.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan key usage: %w", err)
		}
		usages = append(usages, u)
	}

	return usages, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
