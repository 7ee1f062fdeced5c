package processor

import (
	"strings"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

// RetryPolicy returns the pause before retry n, counting from zero. Delays
// must not decrease as n grows.
type RetryPolicy interface {
	NextDelay(retry int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(retry int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

type FixedRetryPolicy struct {
	Delay time.Duration
}

func (p FixedRetryPolicy) NextDelay(int) time.Duration {
	if p.Delay < 0 {
		return 0
	}
	return p.Delay
}

// NoDelay retries immediately.
type NoDelay struct{}

func (NoDelay) NextDelay(int) time.Duration { return 0 }

// RetryPolicyFromConfig builds the policy named by cfg.Retry.Strategy.
func RetryPolicyFromConfig(cfg core.Config) RetryPolicy {
	if strings.EqualFold(strings.TrimSpace(cfg.Retry.Strategy), core.RetryStrategyFixed) {
		delay := cfg.Retry.InitialDelay
		if cfg.Retry.MaxDelay > 0 && delay > cfg.Retry.MaxDelay {
			delay = cfg.Retry.MaxDelay
		}
		return FixedRetryPolicy{Delay: delay}
	}
	return ExponentialRetryPolicy{Initial: cfg.Retry.InitialDelay, Max: cfg.Retry.MaxDelay}
}

type AttemptState string

const (
	StateAttempting AttemptState = "attempting"
	StateRetrying   AttemptState = "retrying"
	StateSucceeded  AttemptState = "succeeded"
	StateExhausted  AttemptState = "exhausted"
)

func (s AttemptState) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted
}

// retryMachine walks attempting(n) -> succeeded | retrying(n+1) -> ... ->
// exhausted. Attempts are numbered from zero; maxRetries bounds the number
// of attempts after the first.
type retryMachine struct {
	maxRetries int
	attempt    int
	state      AttemptState
	lastErr    error
}

func newRetryMachine(maxRetries int) *retryMachine {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &retryMachine{maxRetries: maxRetries, state: StateAttempting}
}

func (m *retryMachine) State() AttemptState { return m.state }

func (m *retryMachine) Attempt() int { return m.attempt }

func (m *retryMachine) Err() error { return m.lastErr }

// Record applies the outcome of the current attempt.
func (m *retryMachine) Record(err error) AttemptState {
	if m.state != StateAttempting {
		return m.state
	}
	m.lastErr = err
	switch {
	case err == nil:
		m.state = StateSucceeded
	case !core.Retryable(err) || m.attempt >= m.maxRetries:
		m.state = StateExhausted
	default:
		m.state = StateRetrying
	}
	return m.state
}

// Resume moves a retrying machine to its next attempt and returns the retry
// index for the backoff policy.
func (m *retryMachine) Resume() int {
	if m.state != StateRetrying {
		return -1
	}
	retry := m.attempt
	m.attempt++
	m.state = StateAttempting
	return retry
}

// Abort ends the machine with err regardless of remaining attempts.
func (m *retryMachine) Abort(err error) {
	if m.state.Terminal() {
		return
	}
	m.lastErr = err
	m.state = StateExhausted
}
