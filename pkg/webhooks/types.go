package webhooks

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of one outbound event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the state admits no further attempts.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Event is one unit of outbound work: one target URL, one payload, a
// retry budget.
type Event struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	TargetURL      string            `json:"target_url"`
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	MaxAttempts    int               `json:"max_attempts"`
	BackoffSeconds int               `json:"backoff_seconds"`
	AttemptsMade   int               `json:"attempts_made"`
	Status         Status            `json:"status"`
	ResponseStatus *int              `json:"response_status,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	NextAttemptAt  *time.Time        `json:"next_attempt_at,omitempty"`
	ClaimedAt      *time.Time        `json:"claimed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// EnqueueParams is the caller's side of the enqueue contract.
type EnqueueParams struct {
	Name               string
	TargetURL          string
	Payload            json.RawMessage
	Headers            map[string]string
	MaxAttempts        int
	BackoffSeconds     int
	AttemptImmediately bool
}

// ListFilter narrows event queries for the admin surface.
type ListFilter struct {
	Status    Status
	Name      string
	OlderThan *time.Time
	Limit     int
}
