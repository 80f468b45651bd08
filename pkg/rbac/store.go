package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/myportal/portal/pkg/auth"
)

// Store persists role definitions. Token sets go into a JSON column so the
// vocabulary can grow without schema changes.
type Store struct {
	db *sql.DB
}

// NewStore creates a role store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = `id, name, description, company_id, is_system, permissions, created_at, updated_at, created_by`

// CreateRole inserts a custom role. Roles created through here are never
// system roles.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	tokensJSON, err := json.Marshal(role.Tokens)
	if err != nil {
		return fmt.Errorf("marshalling role tokens: %w", err)
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, company_id, is_system, permissions, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, false, $4, $5, $5, $6)
		RETURNING id`,
		role.Name, role.Description, role.CompanyID, string(tokensJSON), now, role.CreatedBy,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("creating role %q: %w", role.Name, err)
	}
	role.IsSystem = false
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole fetches a role by id.
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	return scanRole(row)
}

// GetRoleByName fetches a role by name within a company. Company roles
// shadow system roles of the same name.
func (s *Store) GetRoleByName(ctx context.Context, name string, companyID *int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+roleColumns+`
		FROM roles
		WHERE name = $1 AND (company_id = $2 OR company_id IS NULL)
		ORDER BY company_id DESC NULLS LAST
		LIMIT 1`, name, companyID)
	return scanRole(row)
}

func scanRole(row *sql.Row) (*Role, error) {
	var role Role
	var description sql.NullString
	var companyID, createdBy sql.NullInt64
	var tokensJSON string

	err := row.Scan(&role.ID, &role.Name, &description, &companyID,
		&role.IsSystem, &tokensJSON, &role.CreatedAt, &role.UpdatedAt, &createdBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning role: %w", err)
	}

	if err := json.Unmarshal([]byte(tokensJSON), &role.Tokens); err != nil {
		return nil, fmt.Errorf("unmarshalling tokens for role %d: %w", role.ID, err)
	}
	role.Description = description.String
	if companyID.Valid {
		role.CompanyID = &companyID.Int64
	}
	if createdBy.Valid {
		role.CreatedBy = &createdBy.Int64
	}
	return &role, nil
}

// ListRoles returns the roles visible to a company: its own plus the
// system set.
func (s *Store) ListRoles(ctx context.Context, companyID int64) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roleColumns+`
		FROM roles
		WHERE company_id = $1 OR company_id IS NULL
		ORDER BY is_system DESC, name`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing roles for company %d: %w", companyID, err)
	}
	defer rows.Close()

	var out []*Role
	for rows.Next() {
		var role Role
		var description sql.NullString
		var cID, createdBy sql.NullInt64
		var tokensJSON string
		if err := rows.Scan(&role.ID, &role.Name, &description, &cID,
			&role.IsSystem, &tokensJSON, &role.CreatedAt, &role.UpdatedAt, &createdBy); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		if err := json.Unmarshal([]byte(tokensJSON), &role.Tokens); err != nil {
			return nil, fmt.Errorf("unmarshalling tokens for role %d: %w", role.ID, err)
		}
		role.Description = description.String
		if cID.Valid {
			role.CompanyID = &cID.Int64
		}
		if createdBy.Valid {
			role.CreatedBy = &createdBy.Int64
		}
		out = append(out, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return out, nil
}

// UpdateRole changes a role's name, description, and token set. System
// roles keep their name; only their token set and description may change.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	existing, err := s.GetRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if existing.IsSystem && existing.Name != role.Name {
		return fmt.Errorf("system role %q cannot be renamed: %w", existing.Name, auth.ErrForbidden)
	}

	tokensJSON, err := json.Marshal(role.Tokens)
	if err != nil {
		return fmt.Errorf("marshalling role tokens: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE roles SET name = $1, description = $2, permissions = $3, updated_at = $4
		WHERE id = $5`,
		role.Name, role.Description, string(tokensJSON), now, role.ID)
	if err != nil {
		return fmt.Errorf("updating role %d: %w", role.ID, err)
	}
	role.UpdatedAt = now
	return nil
}

// DeleteRole removes a custom role. System roles and roles still assigned
// to memberships cannot be deleted.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("system role %q cannot be deleted: %w", role.Name, auth.ErrForbidden)
	}

	var refs int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE role_id = $1`, id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("counting role %d references: %w", id, err)
	}
	if refs > 0 {
		return fmt.Errorf("role %q is assigned to %d memberships: %w", role.Name, refs, auth.ErrConflict)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting role %d: %w", id, err)
	}
	return nil
}

// GetMembershipTokens returns the current token set behind a membership's
// role, read fresh on every call.
func (s *Store) GetMembershipTokens(ctx context.Context, membershipID int64) ([]Token, error) {
	var tokensJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT r.permissions
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.id = $1`, membershipID).Scan(&tokensJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading tokens for membership %d: %w", membershipID, err)
	}

	var tokens []Token
	if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
		return nil, fmt.Errorf("unmarshalling tokens for membership %d: %w", membershipID, err)
	}
	return tokens, nil
}
