// Package processor runs verified billing events through the business
// handler.
//
// Events are claimed in the idempotency store by the boundary, queued on a
// bounded channel, and picked up by a single worker loop that starts one
// goroutine per event. Each event gets up to max_retries+1 attempts, each
// bounded by the processing timeout, and ends as completed or failed in the
// store.
package processor
