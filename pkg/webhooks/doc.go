// Package webhooks delivers outbound events to external targets with
// at-least-once semantics and bounded retries.
//
// Each event is one JSON POST to one URL with a retry budget. Events are
// independent; there is no ordering between deliveries and no
// deduplication. Callers needing exactly-once must carry an idempotency
// key in the payload.
//
// Delivery runs through a small state machine persisted per event:
// pending, in_flight, retrying, and the terminals succeeded and failed.
// Responses 400, 401, 403, 404, and 422 fail an event immediately; the
// target has told us the request itself is wrong and repeating it cannot
// help. Everything else, including network errors, retries on an
// exponential backoff until the attempt budget runs out.
package webhooks
