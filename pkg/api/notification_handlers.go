package api

import (
	"net/http"

	"github.com/myportal/portal/pkg/audit"
	"github.com/myportal/portal/pkg/httputil"
	"github.com/myportal/portal/pkg/notify"
)

// listNotifications returns the current user's notifications, newest
// first. ?unread=true narrows to unread.
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)

	unreadOnly := httputil.ParseQueryString(r, "unread", "") == "true"
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	out, err := s.notifications.ListForUser(r.Context(), ident.User.ID, unreadOnly, limit)
	if err != nil {
		httputil.WriteDomainError(w, err, "listing notifications failed")
		return
	}
	if out == nil {
		out = []*notify.Notification{}
	}
	httputil.WriteSuccess(w, map[string]any{"notifications": out})
}

type broadcastRequest struct {
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	UserID    *int64         `json:"user_id,omitempty"` // nil fans out to all active users
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// broadcastNotification dispatches an event, targeted or portal-wide.
// Channel preferences still apply per recipient.
func (s *Server) broadcastNotification(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "notification dispatch is not configured")
		return
	}
	ident := identityFrom(r)

	var req broadcastRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.EventType == "" || req.Message == "" {
		httputil.WriteBadRequest(w, "event_type and message are required")
		return
	}

	s.dispatcher.Dispatch(r.Context(), req.EventType, req.Message, req.UserID, req.Metadata)
	s.auditor.LogAction(r.Context(), "notification.dispatched", &ident.User.ID, audit.Entry{
		EntityType: "notification",
		Metadata:   map[string]any{"event_type": req.EventType, "targeted": req.UserID != nil},
	}, r)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"dispatched": true})
}

// markNotificationRead stamps one of the current user's notifications.
func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.notifications.MarkRead(r.Context(), id, ident.User.ID); err != nil {
		httputil.WriteDomainError(w, err, "notification not found")
		return
	}
	httputil.WriteNoContent(w)
}
