package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/myportal/portal/pkg/auth"
)

// Store performs tenancy reads and writes against postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a tenancy store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, is_super_admin,
		       force_password_change, disabled, created_at, updated_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail fetches a user by email. Matching is case-insensitive;
// addresses are stored lower-case.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, is_super_admin,
		       force_password_change, disabled, created_at, updated_at
		FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var displayName sql.NullString
	err := row.Scan(&u.ID, &u.Email, &displayName, &u.PasswordHash,
		&u.IsSuperAdmin, &u.ForcePasswordChange, &u.Disabled,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.DisplayName = displayName.String
	return &u, nil
}

// GetCompany fetches a company by id.
func (s *Store) GetCompany(ctx context.Context, id int64) (*Company, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, syncro_id, xero_id, vip, email_domains, created_at, updated_at
		FROM companies WHERE id = $1`, id)
	var c Company
	var syncroID, xeroID sql.NullString
	err := row.Scan(&c.ID, &c.Name, &syncroID, &xeroID, &c.VIP,
		pq.Array(&c.EmailDomains), &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning company: %w", err)
	}
	if syncroID.Valid {
		c.SyncroID = &syncroID.String
	}
	if xeroID.Valid {
		c.XeroID = &xeroID.String
	}
	return &c, nil
}

const membershipColumns = `
	m.id, m.user_id, m.company_id, m.role_id, r.name, m.status,
	m.invited_by, m.invited_at, m.joined_at, m.last_seen_at`

// GetMembership fetches the membership row linking a user to a company.
// The legacy capability booleans are NOT read back from storage; callers
// get them filled in by the role projection.
func (s *Store) GetMembership(ctx context.Context, userID, companyID int64) (*Membership, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1 AND m.company_id = $2`, userID, companyID)
	m, err := scanMembership(row)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListUserMemberships returns all of a user's memberships across companies,
// ordered by company id for stable output.
func (s *Store) ListUserMemberships(ctx context.Context, userID int64) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1
		ORDER BY m.company_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships for user %d: %w", userID, err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

// ListCompanyMemberships returns all membership rows in a company, ordered
// by user id.
func (s *Store) ListCompanyMemberships(ctx context.Context, companyID int64) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.company_id = $1
		ORDER BY m.user_id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships for company %d: %w", companyID, err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

func collectMemberships(rows *sql.Rows) ([]*Membership, error) {
	var out []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memberships: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (*Membership, error) {
	var m Membership
	var invitedBy sql.NullInt64
	var joinedAt, lastSeenAt sql.NullTime
	err := row.Scan(&m.ID, &m.UserID, &m.CompanyID, &m.RoleID, &m.RoleName,
		&m.Status, &invitedBy, &m.InvitedAt, &joinedAt, &lastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning membership: %w", err)
	}
	if invitedBy.Valid {
		m.InvitedBy = &invitedBy.Int64
	}
	if joinedAt.Valid {
		t := joinedAt.Time
		m.JoinedAt = &t
	}
	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		m.LastSeenAt = &t
	}
	return &m, nil
}

// CreateMembership inserts an invited membership row. A second row for the
// same (user, company) pair violates the unique constraint and surfaces as
// ErrConflict.
func (s *Store) CreateMembership(ctx context.Context, m *Membership) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO memberships (user_id, company_id, role_id, status, invited_by, invited_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		m.UserID, m.CompanyID, m.RoleID, m.Status, m.InvitedBy, m.InvitedAt,
	).Scan(&m.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("membership for user %d in company %d: %w", m.UserID, m.CompanyID, auth.ErrConflict)
		}
		return fmt.Errorf("creating membership: %w", err)
	}
	return nil
}

// SetMembershipStatus moves a membership's lifecycle state. Activating an
// invited membership stamps joined_at the first time.
func (s *Store) SetMembershipStatus(ctx context.Context, id int64, status MembershipStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memberships
		SET status = $2,
		    joined_at = CASE WHEN $2 = 'active' AND joined_at IS NULL THEN $3 ELSE joined_at END
		WHERE id = $1`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating membership %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating membership %d status: %w", id, err)
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// SetMembershipRole changes the role a membership carries. Effective
// permissions change on the next fetch; nothing is cached.
func (s *Store) SetMembershipRole(ctx context.Context, id, roleID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memberships SET role_id = $2 WHERE id = $1`, id, roleID)
	if err != nil {
		return fmt.Errorf("updating membership %d role: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating membership %d role: %w", id, err)
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// TouchMembership records activity on a membership, best-effort.
func (s *Store) TouchMembership(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memberships SET last_seen_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touching membership %d: %w", id, err)
	}
	return nil
}
