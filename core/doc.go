// Package core contains the shared contracts for billing webhook processing:
// the idempotency store contract, error envelope, configuration and the
// logging/metrics plumbing. Transport and storage adapters depend on core;
// core must not depend on them.
package core
