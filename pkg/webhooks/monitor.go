package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskAttemptDelivery is the callable name the monitor registers with the
// scheduler for delayed attempts.
const TaskAttemptDelivery = "webhooks.attempt"

// DefaultMaxAttempts and DefaultBackoffSeconds apply when the caller
// passes zero.
const (
	DefaultMaxAttempts    = 5
	DefaultBackoffSeconds = 60
	attemptTimeout        = 30 * time.Second
)

// EventStore is the persistence the monitor drives.
type EventStore interface {
	Insert(ctx context.Context, ev *Event) error
	GetByID(ctx context.Context, id int64) (*Event, error)
	List(ctx context.Context, filter ListFilter) ([]*Event, error)
	Claim(ctx context.Context, id int64) (*Event, error)
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]*Event, error)
	MarkSucceeded(ctx context.Context, id int64, responseStatus, attemptsMade int) error
	MarkFailed(ctx context.Context, id int64, responseStatus *int, lastError string, attemptsMade int) error
	MarkRetrying(ctx context.Context, id int64, responseStatus *int, lastError string, attemptsMade int, nextAt time.Time) error
	Release(ctx context.Context, id int64) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Scheduler is the monitor's view of delayed execution. A durable
// implementation is nice to have but not required: if scheduling fails,
// the intent is already persisted on the event row and the recovery sweep
// picks it up.
type Scheduler interface {
	ScheduleAfter(delay time.Duration, name string, args map[string]any) error
}

// AttemptObserver receives the outcome of every delivery attempt, for
// metrics. Outcomes are succeeded, retrying, failed and cancelled.
type AttemptObserver interface {
	ObserveWebhookAttempt(name, outcome string, seconds float64)
}

// Monitor owns outbound delivery.
type Monitor struct {
	store     EventStore
	client    *http.Client
	scheduler Scheduler
	logger    *logrus.Logger
	observer  AttemptObserver
	now       func() time.Time
}

// NewMonitor builds a monitor. client may be nil for a default with the
// per-attempt timeout; scheduler may be nil, leaving delivery entirely to
// the recovery sweep.
func NewMonitor(store EventStore, client *http.Client, scheduler Scheduler, logger *logrus.Logger) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: attemptTimeout}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Monitor{
		store:     store,
		client:    client,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
}

// SetObserver attaches attempt metrics. Optional.
func (m *Monitor) SetObserver(o AttemptObserver) {
	m.observer = o
}

func (m *Monitor) observe(name, outcome string, started time.Time) {
	if m.observer != nil {
		m.observer.ObserveWebhookAttempt(name, outcome, time.Since(started).Seconds())
	}
}

// Enqueue persists a new event and either attempts it synchronously or
// hands the first attempt to the scheduler. The returned record carries
// the outcome of an immediate attempt in its status and response_status.
func (m *Monitor) Enqueue(ctx context.Context, p EnqueueParams) (*Event, error) {
	if p.Name == "" || p.TargetURL == "" {
		return nil, fmt.Errorf("event needs a name and a target url")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BackoffSeconds <= 0 {
		p.BackoffSeconds = DefaultBackoffSeconds
	}

	ev := &Event{
		Name:           p.Name,
		TargetURL:      p.TargetURL,
		Payload:        p.Payload,
		Headers:        p.Headers,
		MaxAttempts:    p.MaxAttempts,
		BackoffSeconds: p.BackoffSeconds,
		Status:         StatusPending,
	}
	if err := m.store.Insert(ctx, ev); err != nil {
		return nil, err
	}

	if p.AttemptImmediately {
		claimed, err := m.store.Claim(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		m.attempt(ctx, claimed)
		return m.store.GetByID(context.WithoutCancel(ctx), ev.ID)
	}

	m.schedule(ev.ID, 0)
	return ev, nil
}

// AttemptByID claims and attempts one event. Registered with the
// scheduler under TaskAttemptDelivery and used by the sweep.
func (m *Monitor) AttemptByID(ctx context.Context, id int64) error {
	ev, err := m.store.Claim(ctx, id)
	if err != nil {
		return err
	}
	m.attempt(ctx, ev)
	return nil
}

// Attempt delivers an already-claimed event.
func (m *Monitor) Attempt(ctx context.Context, ev *Event) {
	m.attempt(ctx, ev)
}

// attempt performs one delivery and records its outcome. State writes run
// on a detached context: a cancelled request must not leave the row stuck
// in_flight.
func (m *Monitor) attempt(ctx context.Context, ev *Event) {
	attempts := ev.AttemptsMade + 1
	storeCtx := context.WithoutCancel(ctx)
	started := time.Now()

	statusCode, err := m.post(ctx, ev)
	if ctx.Err() != nil {
		// cancelled mid-attempt: the attempt does not count against the
		// budget, the event goes back to pending for the sweep
		if relErr := m.store.Release(storeCtx, ev.ID); relErr != nil {
			m.logger.WithError(relErr).WithField("event_id", ev.ID).Error("releasing cancelled event")
		}
		m.observe(ev.Name, "cancelled", started)
		return
	}

	if err == nil {
		switch classify(statusCode) {
		case outcomeSuccess:
			if markErr := m.store.MarkSucceeded(storeCtx, ev.ID, statusCode, attempts); markErr != nil {
				m.logger.WithError(markErr).WithField("event_id", ev.ID).Error("marking event succeeded")
			}
			m.observe(ev.Name, "succeeded", started)
			return
		case outcomePermanent:
			status := statusCode
			msg := fmt.Sprintf("target rejected delivery with status %d", statusCode)
			if markErr := m.store.MarkFailed(storeCtx, ev.ID, &status, msg, attempts); markErr != nil {
				m.logger.WithError(markErr).WithField("event_id", ev.ID).Error("marking event failed")
			}
			m.observe(ev.Name, "failed", started)
			return
		}
		err = fmt.Errorf("retryable status %d", statusCode)
	}

	var respStatus *int
	if statusCode != 0 {
		respStatus = &statusCode
	}

	if attempts >= ev.MaxAttempts {
		msg := fmt.Sprintf("attempt budget exhausted: %v", err)
		if markErr := m.store.MarkFailed(storeCtx, ev.ID, respStatus, msg, attempts); markErr != nil {
			m.logger.WithError(markErr).WithField("event_id", ev.ID).Error("marking event failed")
		}
		m.observe(ev.Name, "failed", started)
		return
	}

	delay := backoffDelay(ev.BackoffSeconds, attempts)
	nextAt := m.now().Add(delay)
	if markErr := m.store.MarkRetrying(storeCtx, ev.ID, respStatus, err.Error(), attempts, nextAt); markErr != nil {
		m.logger.WithError(markErr).WithField("event_id", ev.ID).Error("marking event retrying")
		return
	}
	m.observe(ev.Name, "retrying", started)
	m.schedule(ev.ID, delay)
}

// post performs the JSON POST and returns the response status, or 0 with
// an error when no response arrived.
func (m *Monitor) post(ctx context.Context, ev *Event) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ev.TargetURL, bytes.NewReader(ev.Payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ev.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("delivering to %s: %w", ev.TargetURL, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// schedule hands a delayed attempt to the scheduler, best effort.
func (m *Monitor) schedule(eventID int64, delay time.Duration) {
	if m.scheduler == nil {
		return
	}
	err := m.scheduler.ScheduleAfter(delay, TaskAttemptDelivery, map[string]any{"event_id": eventID})
	if err != nil {
		// the event row already records when it is due; the sweep will
		// pick it up
		m.logger.WithError(err).WithField("event_id", eventID).Warn("scheduler unavailable")
	}
}

// ListEvents exposes the admin query surface.
func (m *Monitor) ListEvents(ctx context.Context, filter ListFilter) ([]*Event, error) {
	return m.store.List(ctx, filter)
}

// GetEvent fetches one event by id.
func (m *Monitor) GetEvent(ctx context.Context, id int64) (*Event, error) {
	return m.store.GetByID(ctx, id)
}
