package webhooks

import (
	"math"
	"time"
)

// MaxBackoff caps the delay between attempts however large the budget.
const MaxBackoff = time.Hour

// nonRetryable are the responses that fail an event outright. The target
// has rejected the request itself; repeating it cannot change the answer.
var nonRetryable = map[int]bool{
	400: true,
	401: true,
	403: true,
	404: true,
	422: true,
}

// outcome classifies one attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomePermanent
	outcomeRetryable
)

// classify judges an HTTP response status. Zero means the request never
// produced a response, which is always retryable.
func classify(statusCode int) outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return outcomeSuccess
	case nonRetryable[statusCode]:
		return outcomePermanent
	default:
		return outcomeRetryable
	}
}

// backoffDelay returns the wait before the next attempt after attemptsMade
// attempts: base doubling per attempt, capped at MaxBackoff.
func backoffDelay(backoffSeconds, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	delay := float64(backoffSeconds) * math.Pow(2, float64(attemptsMade-1))
	d := time.Duration(delay * float64(time.Second))
	if d > MaxBackoff || d < 0 {
		return MaxBackoff
	}
	return d
}
