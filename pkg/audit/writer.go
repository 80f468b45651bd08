package audit

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/myportal/portal/pkg/httputil"
)

// Inserter is the slice of the store the writer needs.
type Inserter interface {
	Insert(ctx context.Context, e *Entry) error
}

// Writer is the log-and-continue front of the audit trail. A failed
// write is reported to the logger and otherwise swallowed; the action
// being recorded must never fail because its audit row did.
type Writer struct {
	store  Inserter
	logger *slog.Logger
}

// NewWriter creates a writer over the store.
func NewWriter(store Inserter, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, logger: logger}
}

// Log appends one row, best effort.
func (w *Writer) Log(ctx context.Context, e Entry) {
	// a cancelled request must still get its audit row
	if err := w.store.Insert(context.WithoutCancel(ctx), &e); err != nil {
		w.logger.Error("audit write failed",
			"action", e.Action,
			"entity_type", e.EntityType,
			"error", err,
		)
	}
}

// LogAction is the convenience most handlers use: it fills the request
// attribution fields before appending.
func (w *Writer) LogAction(ctx context.Context, action string, userID *int64, e Entry, r *http.Request) {
	e.Action = action
	e.UserID = userID
	if r != nil {
		e.IPAddress = httputil.ClientIP(r)
		e.UserAgent = r.UserAgent()
		e.RequestPath = r.URL.Path
	}
	w.Log(ctx, e)
}
