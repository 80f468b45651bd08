package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/myportal/portal/pkg/auth"
)

const (
	tokenBytes = 32
	// touchInterval coalesces best-effort last-seen writes: a session seen
	// again inside this window is not re-written.
	touchInterval = time.Minute
)

// Store issues and resolves sessions against PostgreSQL, keyed by token and
// indexed by user and expiry for the sweep.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a session store with the given session TTL.
func NewStore(db *sql.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// Create allocates a fresh session with a new opaque token and a new CSRF
// token bound 1:1. The CSRF token is never reused across sessions.
func (s *Store) Create(ctx context.Context, userID int64, ip, userAgent string) (*Session, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	csrf, err := randomToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &Session{
		Token:      token,
		UserID:     userID,
		CSRFToken:  csrf,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		LastSeenAt: now,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}

	query := `
		INSERT INTO sessions (token, user_id, csrf_token, created_at, expires_at, last_seen_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		sess.Token,
		sess.UserID,
		sess.CSRFToken,
		sess.CreatedAt,
		sess.ExpiresAt,
		sess.LastSeenAt,
		nullString(ip),
		nullString(userAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return sess, nil
}

// Load resolves the session presented on r: the cookie is primary, a bearer
// Authorization header the fallback. An expired session is rejected with
// ErrExpiredCredential unless allowInactive. Last-seen is touched
// best-effort. Identity fields are never mutated here.
func (s *Store) Load(ctx context.Context, r *http.Request, allowInactive bool) (*Session, error) {
	token := ExtractToken(r)
	if token == "" {
		return nil, auth.ErrNoCredential
	}

	sess, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	if !allowInactive && sess.ExpiredAt(s.now()) {
		return nil, auth.ErrExpiredCredential
	}

	s.touch(ctx, sess)
	return sess, nil
}

// Get looks a session up by token.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	query := `
		SELECT token, user_id, csrf_token, created_at, expires_at, last_seen_at,
		       ip_address, user_agent, active_company_id, pending_totp_secret
		FROM sessions
		WHERE token = $1
	`

	var sess Session
	var ip, userAgent, pendingTOTP sql.NullString
	var activeCompanyID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&sess.Token,
		&sess.UserID,
		&sess.CSRFToken,
		&sess.CreatedAt,
		&sess.ExpiresAt,
		&sess.LastSeenAt,
		&ip,
		&userAgent,
		&activeCompanyID,
		&pendingTOTP,
	)
	if err == sql.ErrNoRows {
		return nil, auth.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if ip.Valid {
		sess.IPAddress = ip.String
	}
	if userAgent.Valid {
		sess.UserAgent = userAgent.String
	}
	if activeCompanyID.Valid {
		id := activeCompanyID.Int64
		sess.ActiveCompanyID = &id
	}
	if pendingTOTP.Valid {
		v := pendingTOTP.String
		sess.PendingTOTP = &v
	}

	return &sess, nil
}

// SetActiveCompany updates the session's tenant selection in place and
// persists it.
func (s *Store) SetActiveCompany(ctx context.Context, sess *Session, companyID int64) error {
	query := `UPDATE sessions SET active_company_id = $1 WHERE token = $2`
	if _, err := s.db.ExecContext(ctx, query, companyID, sess.Token); err != nil {
		return fmt.Errorf("failed to set active company: %w", err)
	}
	sess.ActiveCompanyID = &companyID
	return nil
}

// SetPendingTOTP stores the secret for an in-progress TOTP enrolment.
func (s *Store) SetPendingTOTP(ctx context.Context, sess *Session, secret string) error {
	query := `UPDATE sessions SET pending_totp_secret = $1 WHERE token = $2`
	if _, err := s.db.ExecContext(ctx, query, nullString(secret), sess.Token); err != nil {
		return fmt.Errorf("failed to set pending totp secret: %w", err)
	}
	sess.PendingTOTP = &secret
	return nil
}

// Revoke deletes the session.
func (s *Store) Revoke(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser deletes every session owned by userID.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry. Run periodically.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountActive returns how many sessions are currently live. Feeds the
// sessions gauge.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE expires_at >= $1`, s.now().UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return n, nil
}

// touch updates last-seen, coalesced to at most one write per interval.
// Failures are deliberately ignored: last-seen is best-effort.
func (s *Store) touch(ctx context.Context, sess *Session) {
	now := s.now().UTC()
	if now.Sub(sess.LastSeenAt) < touchInterval {
		return
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = $1 WHERE token = $2`, now, sess.Token)
	sess.LastSeenAt = now
}

// ExtractToken pulls the session token from the cookie (primary) or a bearer
// Authorization header (fallback).
func ExtractToken(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
