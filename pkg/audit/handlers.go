package audit

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/myportal/portal/pkg/httputil"
)

// Handlers is the admin read surface over the audit trail.
type Handlers struct {
	store *Store
}

// NewHandlers creates the handlers.
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts the endpoints on the admin subrouter. Paths are
// relative to the subrouter's prefix; the caller wraps them in
// super-admin access control.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/audit-logs", h.Search).Methods(http.MethodGet)
	r.HandleFunc("/audit-logs/{id:[0-9]+}", h.Get).Methods(http.MethodGet)
}

// Search returns entries matching the query filters, newest first.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	filter := SearchFilter{
		Action:     httputil.ParseQueryString(r, "action", ""),
		EntityType: httputil.ParseQueryString(r, "entity_type", ""),
		EntityID:   httputil.ParseQueryString(r, "entity_id", ""),
	}

	if v, err := httputil.ParseQueryInt(r, "user_id", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	} else if v > 0 {
		uid := int64(v)
		filter.UserID = &uid
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.Limit = limit

	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.Offset = offset

	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		if raw := httputil.ParseQueryString(r, name, ""); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				httputil.WriteBadRequest(w, name+" must be an RFC 3339 timestamp")
				return
			}
			*dst = &t
		}
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteDomainError(w, err, "searching audit logs failed")
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	httputil.WriteSuccess(w, map[string]any{"entries": entries})
}

// Get returns one entry by id.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	entry, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err, "entry not found")
		return
	}
	httputil.WriteSuccess(w, entry)
}
