package webhooks

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/myportal/portal/pkg/httputil"
)

// Handlers is the admin read surface over the event queue.
type Handlers struct {
	monitor *Monitor
}

// NewHandlers creates the handlers.
func NewHandlers(monitor *Monitor) *Handlers {
	return &Handlers{monitor: monitor}
}

// RegisterRoutes mounts the endpoints on the admin subrouter. Paths are
// relative to the subrouter's prefix; the caller wraps them in
// super-admin access control.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhook-events", h.ListEvents).Methods(http.MethodGet)
	r.HandleFunc("/webhook-events/{id:[0-9]+}", h.GetEvent).Methods(http.MethodGet)
}

// ListEvents returns events filtered by status, name, and age.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status: Status(httputil.ParseQueryString(r, "status", "")),
		Name:   httputil.ParseQueryString(r, "name", ""),
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.Limit = limit

	if maxAge := httputil.ParseQueryString(r, "older_than", ""); maxAge != "" {
		d, err := time.ParseDuration(maxAge)
		if err != nil {
			httputil.WriteBadRequest(w, "older_than must be a duration like 24h")
			return
		}
		cutoff := time.Now().Add(-d)
		filter.OlderThan = &cutoff
	}

	events, err := h.monitor.ListEvents(r.Context(), filter)
	if err != nil {
		httputil.WriteDomainError(w, err, "listing events failed")
		return
	}
	if events == nil {
		events = []*Event{}
	}
	httputil.WriteSuccess(w, map[string]any{"events": events})
}

// GetEvent returns one event by id.
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	ev, err := h.monitor.GetEvent(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err, "event not found")
		return
	}
	httputil.WriteSuccess(w, ev)
}
