// Package notify fans events out to users: an in-app notification row
// always, plus email and SMS deliveries handed to the outbound webhook
// queue when the recipient's channel preferences allow them.
//
// Channel preferences are per user per event type and are clamped by the
// event type's global allow flags, so an administrator can switch a
// channel off for everyone without touching individual preferences.
// Dispatch failures are logged and swallowed; the action that triggered
// the notification must never fail because of them.
package notify
