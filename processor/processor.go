package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/events"
)

// Task is one queued event. Attempt is the first attempt number to run and
// is zero for fresh deliveries.
type Task struct {
	Event      events.Event
	Attempt    int
	EnqueuedAt time.Time
}

// Processor owns the bounded queue and the worker loop. The idempotency
// claim is taken by the caller before QueueEvent; the processor only records
// the final outcome.
type Processor struct {
	store          core.IdempotencyStore
	handler        Handler
	retryPolicy    RetryPolicy
	maxRetries     int
	timeout        time.Duration
	enqueueTimeout time.Duration
	capacity       int
	hooks          hookSet
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	observer       *core.Observer
	now            func() time.Time

	queue    chan Task
	stop     chan struct{}
	loopDone chan struct{}
	inflight sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	running bool
}

func New(store core.IdempotencyStore, handler Handler, opts ...Option) (*Processor, error) {
	if store == nil {
		return nil, fmt.Errorf("processor: idempotency store is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("processor: handler is required")
	}
	p := &Processor{
		store:          store,
		handler:        handler,
		retryPolicy:    ExponentialRetryPolicy{},
		maxRetries:     DefaultMaxRetries,
		timeout:        DefaultProcessingTimeout,
		enqueueTimeout: DefaultEnqueueTimeout,
		capacity:       DefaultQueueCapacity,
		now:            func() time.Time { return time.Now().UTC() },
		stop:           make(chan struct{}),
		loopDone:       make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	provider, logger := glog.Resolve("billing.processor", p.loggerProvider, p.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("billing.processor"); named != nil {
			logger = glog.Ensure(named)
		}
	}
	p.logger = logger
	p.observer = core.NewObserver(logger, p.metrics)
	p.queue = make(chan Task, p.capacity)
	return p, nil
}

// QueueEvent hands an already claimed event to the worker loop. It returns
// once the event is buffered, or a QueueFull error when the queue stays full
// past the enqueue timeout or the processor is closed. A QueueFull caused by
// ctx ending the wait wraps ctx.Err().
func (p *Processor) QueueEvent(ctx context.Context, event events.Event) error {
	if p == nil {
		return core.Internal("processor: not configured", nil)
	}
	if strings.TrimSpace(event.ID) == "" {
		return core.InvalidPayload("processor: event id is required", nil)
	}
	fields := eventFields(event)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.observer.Count(ctx, core.MetricQueueRejected, map[string]string{"reason": "closed"})
		return core.QueueFull("processor: not accepting events", fields)
	}

	task := Task{Event: event, EnqueuedAt: p.now()}
	select {
	case p.queue <- task:
		p.observer.Debug(ctx, "billing event queued", fields)
		return nil
	default:
	}

	if p.enqueueTimeout > 0 {
		timer := time.NewTimer(p.enqueueTimeout)
		defer timer.Stop()
		select {
		case p.queue <- task:
			p.observer.Debug(ctx, "billing event queued", fields)
			return nil
		case <-timer.C:
		case <-ctx.Done():
			p.observer.Count(ctx, core.MetricQueueRejected, map[string]string{"reason": "cancelled"})
			p.observer.Warn(ctx, "billing event enqueue cancelled", fields)
			return core.WrapQueueFull(ctx.Err(), "processor: enqueue cancelled while the queue was full", fields)
		}
	}

	p.observer.Count(ctx, core.MetricQueueRejected, map[string]string{"reason": "full"})
	p.observer.Warn(ctx, "billing event queue full", fields)
	return core.QueueFull("processor: event queue is full", fields)
}

// ProcessEventSync runs the full attempt sequence inline and returns the
// terminal error, if any. It does not claim the event.
func (p *Processor) ProcessEventSync(ctx context.Context, event events.Event) error {
	if p == nil {
		return core.Internal("processor: not configured", nil)
	}
	if strings.TrimSpace(event.ID) == "" {
		return core.InvalidPayload("processor: event id is required", nil)
	}
	return p.execute(ctx, Task{Event: event, EnqueuedAt: p.now()})
}

// Start runs the worker loop in the background.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.markRunning(); err != nil {
		return err
	}
	go p.loop(ctx)
	return nil
}

// Run blocks running the worker loop until ctx is done or Close is called.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.markRunning(); err != nil {
		return err
	}
	p.loop(ctx)
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close stops accepting events and stops the loop. Events still buffered are
// never started; their claims are released so redeliveries can claim again.
// Tasks already spawned keep running, see Wait.
func (p *Processor) Close() error {
	if p == nil {
		return nil
	}
	p.stopAccepting()
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()
	if running {
		<-p.loopDone
		return nil
	}
	p.releaseBacklog(context.Background())
	return nil
}

// Wait blocks until spawned tasks finish or ctx is done. Call it after Close.
func (p *Processor) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) Depth() int {
	if p == nil {
		return 0
	}
	return len(p.queue)
}

func (p *Processor) Capacity() int {
	if p == nil {
		return 0
	}
	return cap(p.queue)
}

func (p *Processor) markRunning() error {
	if p == nil {
		return fmt.Errorf("processor: not configured")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("processor: closed")
	}
	if p.running {
		return fmt.Errorf("processor: already running")
	}
	p.running = true
	return nil
}

func (p *Processor) stopAccepting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.stop)
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.loopDone)
	base := context.WithoutCancel(ctx)
	defer p.releaseBacklog(base)

	p.observer.Info(base, "billing worker loop started", map[string]any{"capacity": cap(p.queue)})
	for {
		select {
		case <-ctx.Done():
			p.stopAccepting()
			p.observer.Info(base, "billing worker loop stopped", map[string]any{"reason": "context"})
			return
		case <-p.stop:
			p.observer.Info(base, "billing worker loop stopped", map[string]any{"reason": "closed"})
			return
		case task := <-p.queue:
			p.spawn(base, task)
		}
	}
}

func (p *Processor) spawn(ctx context.Context, task Task) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		_ = p.execute(ctx, task)
	}()
}

// releaseBacklog drains events that were queued but never started. Only
// called once no sender can enqueue.
func (p *Processor) releaseBacklog(ctx context.Context) {
	released := 0
	for {
		select {
		case task := <-p.queue:
			fields := eventFields(task.Event)
			if err := p.store.Release(ctx, task.Event.ID); err != nil {
				fields["error"] = err.Error()
				p.observer.Error(ctx, "billing claim release failed", fields)
				continue
			}
			released++
			p.observer.Count(ctx, core.MetricClaimsReleased, nil)
		default:
			if released > 0 {
				p.observer.Warn(ctx, "billing backlog released on shutdown", map[string]any{"released": released})
			}
			return
		}
	}
}

func (p *Processor) execute(ctx context.Context, task Task) error {
	event := task.Event
	fields := eventFields(event)
	startedAt := p.now()

	machine := newRetryMachine(p.maxRetries)
	if task.Attempt > 0 {
		machine.attempt = min(task.Attempt, p.maxRetries)
	}

	for !machine.State().Terminal() {
		switch machine.State() {
		case StateAttempting:
			err := p.attempt(ctx, event, machine.Attempt())
			if ctx.Err() != nil {
				machine.Abort(ctx.Err())
				continue
			}
			if machine.Record(err) == StateRetrying {
				failed := cloneFields(fields)
				failed["attempt"] = machine.Attempt()
				failed["error"] = err.Error()
				p.observer.Warn(ctx, "billing event attempt failed", failed)
			}
		case StateRetrying:
			lastErr := machine.Err()
			retry := machine.Resume()
			delay := p.retryPolicy.NextDelay(retry)
			p.hooks.retry(ctx, AttemptEvent{
				EventID:   event.ID,
				EventType: event.TypedEventType(),
				Attempt:   machine.Attempt(),
				Delay:     delay,
				Err:       lastErr,
				StartedAt: p.now(),
			})
			retrying := cloneFields(fields)
			retrying["attempt"] = machine.Attempt()
			retrying["delay"] = delay.String()
			p.observer.Info(ctx, "billing event retrying", retrying)
			if err := sleep(ctx, delay); err != nil {
				machine.Abort(err)
			}
		}
	}

	duration := p.now().Sub(startedAt)
	p.observer.Observe(ctx, core.MetricEventDuration, float64(duration.Milliseconds()), map[string]string{
		"event_type": event.TypedEventType().String(),
		"status":     string(machine.State()),
	})

	done := cloneFields(fields)
	done["attempts"] = machine.Attempt() + 1
	done["duration"] = duration.String()

	if machine.State() == StateSucceeded {
		if err := p.store.MarkCompleted(context.WithoutCancel(ctx), event.ID); err != nil {
			done["error"] = err.Error()
			p.observer.Error(ctx, "billing store finalization failed", done)
			return err
		}
		p.observer.Info(ctx, "billing event completed", done)
		return nil
	}

	terminal := machine.Err()
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(terminal, ctxErr) {
		if err := p.store.Release(context.WithoutCancel(ctx), event.ID); err != nil {
			done["error"] = err.Error()
			p.observer.Error(ctx, "billing claim release failed", done)
		}
		p.observer.Warn(ctx, "billing event abandoned", done)
		return terminal
	}

	p.hooks.failure(ctx, AttemptEvent{
		EventID:   event.ID,
		EventType: event.TypedEventType(),
		Attempt:   machine.Attempt(),
		Err:       terminal,
		StartedAt: startedAt,
		Duration:  duration,
	})
	done["error"] = terminal.Error()
	done["text_code"] = core.TextCode(terminal)
	p.observer.Error(ctx, "billing event failed", done)
	if err := p.store.MarkFailed(context.WithoutCancel(ctx), event.ID, core.Reason(terminal)); err != nil {
		done["store_error"] = err.Error()
		p.observer.Error(ctx, "billing store finalization failed", done)
	}
	return terminal
}

type attemptResult struct {
	dispatched bool
	err        error
}

// attempt runs one dispatch under the processing timeout. A handler that
// ignores its context is abandoned when the timeout fires.
func (p *Processor) attempt(ctx context.Context, event events.Event, number int) error {
	startedAt := p.now()
	info := AttemptEvent{
		EventID:   event.ID,
		EventType: event.TypedEventType(),
		Attempt:   number,
		StartedAt: startedAt,
	}
	p.hooks.start(ctx, info)

	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				results <- attemptResult{dispatched: true, err: fmt.Errorf("processor: handler panic: %v", recovered)}
			}
		}()
		dispatched, err := Dispatch(attemptCtx, p.handler, event)
		results <- attemptResult{dispatched: dispatched, err: err}
	}()

	var result attemptResult
	select {
	case result = <-results:
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			result = attemptResult{dispatched: true, err: ctx.Err()}
		} else {
			result = attemptResult{dispatched: true, err: context.DeadlineExceeded}
		}
	}

	err := p.classify(ctx, event, number, result.err)
	info.Duration = p.now().Sub(startedAt)
	info.Err = err

	status := "success"
	switch {
	case err == nil && !result.dispatched:
		status = "ignored"
		p.observer.Debug(ctx, "billing event type ignored", eventFields(event))
	case core.IsTimeout(err):
		status = "timeout"
	case err != nil:
		status = "failure"
	}
	p.observer.Count(ctx, core.MetricAttemptTotal, map[string]string{
		"event_type": event.TypedEventType().String(),
		"status":     status,
	})
	if err == nil {
		p.hooks.success(ctx, info)
	}
	return err
}

func (p *Processor) classify(ctx context.Context, event events.Event, number int, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	metadata := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"attempt":    strconv.Itoa(number),
	}
	var projection *projectionError
	switch {
	case errors.As(err, &projection):
		return projection.err
	case errors.Is(err, context.DeadlineExceeded):
		return core.ProcessingTimeout(
			fmt.Sprintf("processor: attempt exceeded %s", p.timeout),
			metadata,
		)
	case core.IsTimeout(err):
		return err
	default:
		return core.ProcessingFailed(err, metadata)
	}
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func eventFields(event events.Event) map[string]any {
	return map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+4)
	for key, value := range fields {
		out[key] = value
	}
	return out
}
