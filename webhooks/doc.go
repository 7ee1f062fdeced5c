// Package webhooks verifies Stripe-Signature headers.
//
// The header carries a timestamp and one or more v1 HMAC-SHA256 signatures
// over "timestamp.body". A delivery is accepted when any v1 signature matches
// the signing secret and the timestamp is inside the tolerance window.
package webhooks
