package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/myportal/portal/pkg/audit"
	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/httputil"
	"github.com/myportal/portal/pkg/rbac"
)

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

func (req *roleRequest) tokens() []rbac.Token {
	out := make([]rbac.Token, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		out = append(out, rbac.Token(strings.TrimSpace(p)))
	}
	return out
}

// listRoles returns the roles visible to the active company: its own
// plus the system set.
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	roles, err := s.roles.ListRoles(r.Context(), ident.ActiveCompanyID())
	if err != nil {
		httputil.WriteDomainError(w, err, "listing roles failed")
		return
	}
	if roles == nil {
		roles = []*rbac.Role{}
	}
	httputil.WriteSuccess(w, map[string]any{"roles": roles})
}

// createRole adds a company role. Roles created here are never system
// roles.
func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)

	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	companyID := ident.ActiveCompanyID()
	role := &rbac.Role{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Tokens:      req.tokens(),
		CompanyID:   &companyID,
	}
	if err := s.roles.CreateRole(r.Context(), role); err != nil {
		httputil.WriteDomainError(w, err, "creating role failed")
		return
	}

	newValue, _ := json.Marshal(role)
	s.auditor.LogAction(r.Context(), "role.created", &ident.User.ID, audit.Entry{
		EntityType: "role",
		EntityID:   entityID(role.ID),
		NewValue:   newValue,
	}, r)
	httputil.WriteCreated(w, role)
}

// loadCompanyRole fetches a role and checks the caller may administer
// it. Roles of other companies come back as NotFound rather than
// Forbidden.
func (s *Server) loadCompanyRole(r *http.Request, id int64) (*rbac.Role, error) {
	ident := identityFrom(r)
	role, err := s.roles.GetRole(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if role.CompanyID != nil && *role.CompanyID != ident.ActiveCompanyID() {
		return nil, auth.ErrNotFound
	}
	if role.CompanyID == nil && !ident.User.IsSuperAdmin {
		// system roles are administered above the company level
		return nil, auth.ErrForbidden
	}
	return role, nil
}

// updateRole edits a role's description and permission set. System roles
// keep their names.
func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := s.loadCompanyRole(r, id)
	if err != nil {
		httputil.WriteDomainError(w, err, "role not found")
		return
	}
	previous, _ := json.Marshal(role)

	if req.Name != "" {
		role.Name = strings.TrimSpace(req.Name)
	}
	role.Description = req.Description
	role.Tokens = req.tokens()

	if err := s.roles.UpdateRole(r.Context(), role); err != nil {
		httputil.WriteDomainError(w, err, "updating role failed")
		return
	}

	newValue, _ := json.Marshal(role)
	s.auditor.LogAction(r.Context(), "role.updated", &ident.User.ID, audit.Entry{
		EntityType:    "role",
		EntityID:      entityID(role.ID),
		PreviousValue: previous,
		NewValue:      newValue,
	}, r)
	httputil.WriteSuccess(w, role)
}

// deleteRole removes a company role. Roles still referenced by
// memberships refuse with a conflict.
func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := s.loadCompanyRole(r, id)
	if err != nil {
		httputil.WriteDomainError(w, err, "role not found")
		return
	}

	if err := s.roles.DeleteRole(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrConflict) {
			httputil.WriteDomainError(w, err, "role is still assigned to memberships")
			return
		}
		httputil.WriteDomainError(w, err, "deleting role failed")
		return
	}

	previous, _ := json.Marshal(role)
	s.auditor.LogAction(r.Context(), "role.deleted", &ident.User.ID, audit.Entry{
		EntityType:    "role",
		EntityID:      entityID(id),
		PreviousValue: previous,
	}, r)
	httputil.WriteNoContent(w)
}

func entityID(id int64) *string {
	s := fmt.Sprintf("%d", id)
	return &s
}
