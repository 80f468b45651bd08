package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/myportal/portal/pkg/webhooks"
)

// Backend is the storage the dispatcher reads and writes.
type Backend interface {
	Insert(ctx context.Context, n *Notification) error
	Preference(ctx context.Context, userID int64, eventType string) (Preference, error)
	TypePolicy(ctx context.Context, eventType string) (TypePolicy, error)
	GetRecipient(ctx context.Context, userID int64) (*Recipient, error)
	ActiveRecipients(ctx context.Context, eventType string) ([]*Recipient, error)
}

// Enqueuer hands email and SMS deliveries to the outbound queue.
// *webhooks.Monitor satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, p webhooks.EnqueueParams) (*webhooks.Event, error)
}

// Config carries the delivery targets for the non-in-app channels. An
// empty URL switches that channel off entirely.
type Config struct {
	EmailWebhookURL string
	SMSWebhookURL   string
}

// ChannelObserver counts deliveries per channel, for metrics.
type ChannelObserver interface {
	ObserveNotification(channel string)
}

// Dispatcher fans an event out to its recipients. It never returns an
// error: failures are logged and the triggering action proceeds.
type Dispatcher struct {
	backend  Backend
	queue    Enqueuer
	cfg      Config
	logger   *slog.Logger
	observer ChannelObserver
}

// NewDispatcher builds a dispatcher. queue may be nil, reducing delivery
// to the in-app channel.
func NewDispatcher(backend Backend, queue Enqueuer, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{backend: backend, queue: queue, cfg: cfg, logger: logger}
}

// SetObserver attaches per-channel delivery metrics. Optional.
func (d *Dispatcher) SetObserver(o ChannelObserver) {
	d.observer = o
}

func (d *Dispatcher) observe(channel string) {
	if d.observer != nil {
		d.observer.ObserveNotification(channel)
	}
}

// Dispatch delivers one event. With a user id it targets that user; with
// nil it fans out to every active user who has not suppressed the event
// type.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType, message string, userID *int64, metadata map[string]any) {
	// delivery outlives the request that triggered it
	ctx = context.WithoutCancel(ctx)

	policy, err := d.backend.TypePolicy(ctx, eventType)
	if err != nil {
		d.logger.Error("notification dispatch failed", "event_type", eventType, "error", err)
		return
	}

	var recipients []*Recipient
	if userID != nil {
		r, err := d.backend.GetRecipient(ctx, *userID)
		if err != nil {
			d.logger.Error("notification recipient lookup failed",
				"event_type", eventType, "user_id", *userID, "error", err)
			return
		}
		if r.Disabled {
			return
		}
		recipients = []*Recipient{r}
	} else {
		recipients, err = d.backend.ActiveRecipients(ctx, eventType)
		if err != nil {
			d.logger.Error("notification fan-out failed", "event_type", eventType, "error", err)
			return
		}
	}

	for _, r := range recipients {
		if err := d.deliver(ctx, r, policy, eventType, message, metadata); err != nil {
			d.logger.Error("notification delivery failed",
				"event_type", eventType, "user_id", r.ID, "error", err)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, r *Recipient, policy TypePolicy, eventType, message string, metadata map[string]any) error {
	pref, err := d.backend.Preference(ctx, r.ID, eventType)
	if err != nil {
		return err
	}
	eff := pref.Clamp(policy)

	if eff.InApp {
		n := &Notification{UserID: r.ID, EventType: eventType, Message: message, Metadata: metadata}
		if err := d.backend.Insert(ctx, n); err != nil {
			return err
		}
		d.observe(ChannelInApp)
	}
	if eff.Email && d.queue != nil && d.cfg.EmailWebhookURL != "" {
		if err := d.enqueue(ctx, "notify.email", d.cfg.EmailWebhookURL, r, eventType, message, metadata); err != nil {
			return err
		}
		d.observe(ChannelEmail)
	}
	if eff.SMS && d.queue != nil && d.cfg.SMSWebhookURL != "" {
		if err := d.enqueue(ctx, "notify.sms", d.cfg.SMSWebhookURL, r, eventType, message, metadata); err != nil {
			return err
		}
		d.observe(ChannelSMS)
	}
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, name, targetURL string, r *Recipient, eventType, message string, metadata map[string]any) error {
	payload, err := json.Marshal(map[string]any{
		"user_id":    r.ID,
		"email":      r.Email,
		"event_type": eventType,
		"message":    message,
		"metadata":   metadata,
	})
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", name, err)
	}
	_, err = d.queue.Enqueue(ctx, webhooks.EnqueueParams{
		Name:      name,
		TargetURL: targetURL,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("enqueueing %s delivery: %w", name, err)
	}
	return nil
}
