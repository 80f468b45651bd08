package api

import (
	"net/http"
	"time"

	"github.com/myportal/portal/pkg/audit"
	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/httputil"
)

type createAPIKeyRequest struct {
	Description    string                 `json:"description"`
	ExpiresOn      string                 `json:"expires_on,omitempty"` // YYYY-MM-DD, inclusive
	Permissions    []auth.RoutePermission `json:"permissions,omitempty"`
	IPRestrictions []string               `json:"ip_restrictions,omitempty"`
}

// createAPIKey mints a key and returns the cleartext exactly once.
func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)

	var req createAPIKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var expiresOn *time.Time
	if req.ExpiresOn != "" {
		t, err := time.Parse("2006-01-02", req.ExpiresOn)
		if err != nil {
			httputil.WriteBadRequest(w, "expires_on must be a YYYY-MM-DD date")
			return
		}
		expiresOn = &t
	}

	cleartext, digest, prefix, err := s.hasher.GenerateAPIKey(8)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	key := &auth.APIKey{
		Digest:         digest,
		Prefix:         prefix,
		Description:    req.Description,
		ExpiresOn:      expiresOn,
		Permissions:    req.Permissions,
		IPRestrictions: req.IPRestrictions,
	}
	if err := s.keys.Create(r.Context(), key); err != nil {
		httputil.WriteDomainError(w, err, "creating api key failed")
		return
	}

	s.auditor.LogAction(r.Context(), "api_key.created", &ident.User.ID, audit.Entry{
		EntityType: "api_key",
		EntityID:   entityID(key.ID),
		Metadata:   map[string]any{"prefix": key.Prefix},
	}, r)

	// the cleartext is not stored; this response is its only appearance
	httputil.WriteCreated(w, map[string]any{
		"key":       key,
		"cleartext": cleartext,
	})
}

// integrationWhoami identifies the calling key. Integrations hit this
// to verify their credential and allow-lists before doing real work.
func (s *Server) integrationWhoami(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	key := ident.APIKey
	httputil.WriteSuccess(w, map[string]any{
		"key_id":      key.ID,
		"masked":      key.Masked(),
		"description": key.Description,
		"expires_on":  key.ExpiresOn,
	})
}

// listAPIKeys returns every key in masked form.
func (s *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err, "listing api keys failed")
		return
	}
	masked := make([]map[string]any, 0, len(keys))
	for i := range keys {
		k := &keys[i]
		masked = append(masked, map[string]any{
			"id":           k.ID,
			"masked":       k.Masked(),
			"description":  k.Description,
			"expires_on":   k.ExpiresOn,
			"created_at":   k.CreatedAt,
			"last_used_at": k.LastUsedAt,
		})
	}
	httputil.WriteSuccess(w, map[string]any{"keys": masked})
}

// deleteAPIKey revokes a key immediately.
func (s *Server) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.keys.Delete(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, err, "api key not found")
		return
	}
	s.auditor.LogAction(r.Context(), "api_key.deleted", &ident.User.ID, audit.Entry{
		EntityType: "api_key",
		EntityID:   entityID(id),
	}, r)
	httputil.WriteNoContent(w)
}

// listAPIKeyUsage returns the per-IP counters for one key.
func (s *Server) listAPIKeyUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	usage, err := s.keys.ListUsage(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err, "listing key usage failed")
		return
	}
	if usage == nil {
		usage = []auth.KeyUsage{}
	}
	httputil.WriteSuccess(w, map[string]any{"usage": usage})
}
