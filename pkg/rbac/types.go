package rbac

import "time"

// Role is a named bundle of permission tokens, scoped to a company or
// shared system-wide. System roles ship with the product: they cannot be
// renamed or deleted, though their token sets may be edited.
type Role struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CompanyID   *int64     `json:"company_id,omitempty"` // nil for system roles
	IsSystem    bool       `json:"is_system"`
	Tokens      []Token    `json:"permissions"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CreatedBy   *int64     `json:"created_by,omitempty"`
}

// HasToken reports whether the role grants t.
func (r *Role) HasToken(t Token) bool {
	for _, have := range r.Tokens {
		if have == t {
			return true
		}
	}
	return false
}

// Names of the roles every install starts with.
const (
	RoleAdministrator = "Administrator"
	RoleStandardUser  = "Standard User"
	RoleReadOnly      = "Read Only"
)
