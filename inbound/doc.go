// Package inbound is the webhook boundary.
//
// A request is verified against the raw body, parsed, claimed in the
// idempotency store and queued. Duplicates are acknowledged without being
// queued again. Queue overload releases the claim and answers 503 so the
// sender retries.
package inbound
