package notify

import "time"

// Channels a notification can travel on.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Notification is one in-app notification row.
type Notification struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Preference is one user's channel choices for one event type. A user
// with no stored row gets DefaultPreference.
type Preference struct {
	UserID    int64  `json:"user_id"`
	EventType string `json:"event_type"`
	InApp     bool   `json:"in_app"`
	Email     bool   `json:"email"`
	SMS       bool   `json:"sms"`
}

// DefaultPreference is what applies before a user ever edits channels:
// in-app and email on, SMS off.
func DefaultPreference(userID int64, eventType string) Preference {
	return Preference{UserID: userID, EventType: eventType, InApp: true, Email: true}
}

// TypePolicy is the administrator-set ceiling for one event type. A
// channel the policy disallows is off for everyone regardless of
// preference.
type TypePolicy struct {
	EventType  string `json:"event_type"`
	AllowInApp bool   `json:"allow_in_app"`
	AllowEmail bool   `json:"allow_email"`
	AllowSMS   bool   `json:"allow_sms"`
}

// DefaultTypePolicy is the ceiling for event types with no stored row.
func DefaultTypePolicy(eventType string) TypePolicy {
	return TypePolicy{EventType: eventType, AllowInApp: true, AllowEmail: true, AllowSMS: true}
}

// Clamp intersects the preference with the policy.
func (p Preference) Clamp(policy TypePolicy) Preference {
	p.InApp = p.InApp && policy.AllowInApp
	p.Email = p.Email && policy.AllowEmail
	p.SMS = p.SMS && policy.AllowSMS
	return p
}
