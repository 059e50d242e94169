package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/adapters/gojob"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	defaultClaimLease = 10 * time.Minute
	minReleaseDelay   = time.Second
)

// Backoff computes the redelivery delay for a failed attempt.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay per attempt from Initial up to Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialBackoff) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
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

type WorkerOption func(*Worker)

func WithClaimStore(claims core.IdempotencyClaimStore) WorkerOption {
	return func(w *Worker) {
		if claims != nil {
			w.claims = claims
		}
	}
}

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *Worker) {
		w.hook = hook
	}
}

func WithBackoff(backoff Backoff) WorkerOption {
	return func(w *Worker) {
		if backoff != nil {
			w.backoff = backoff
		}
	}
}

func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithClaimLease(lease time.Duration) WorkerOption {
	return func(w *Worker) {
		if lease > 0 {
			w.lease = lease
		}
	}
}

func WithWorkerObserver(observer *core.Observer) WorkerOption {
	return func(w *Worker) {
		if observer != nil {
			w.observer = observer
		}
	}
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker drains one relay into a processor. Each message is claimed by its
// idempotency key before processing so a redelivered duplicate is a no-op.
type Worker struct {
	source      queue.Dequeuer
	processor   core.Processor
	claims      core.IdempotencyClaimStore
	hook        worker.Hook
	backoff     Backoff
	concurrency int
	lease       time.Duration
	observer    *core.Observer
	now         func() time.Time
}

func NewWorker(source queue.Dequeuer, processor core.Processor, claims core.IdempotencyClaimStore, opts ...WorkerOption) *Worker {
	w := &Worker{
		source:      source,
		processor:   processor,
		claims:      claims,
		backoff:     ExponentialBackoff{},
		concurrency: 1,
		lease:       defaultClaimLease,
		observer:    core.NopObserver(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run starts the pool and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.source == nil || w.processor == nil || w.claims == nil {
		return fmt.Errorf("relay: worker requires a source, a processor and a claim store")
	}
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		delivery, err := w.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.observer.Warn(ctx, "relay dequeue failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff.NextDelay(1)):
			}
			continue
		}
		_ = w.Handle(ctx, delivery)
	}
}

// Handle processes one delivery: claim, consume, then ack or nack.
func (w *Worker) Handle(ctx context.Context, delivery queue.Delivery) error {
	startedAt := time.Now()
	msg, err := relayMessage(delivery)
	if err != nil {
		return w.nack(ctx, delivery, msg, startedAt, err)
	}
	event := worker.Event{
		Message:   delivery.Message(),
		Delivery:  delivery,
		Attempt:   msg.Attempt,
		StartedAt: startedAt,
	}

	key := ClaimKey(msg)
	claimID, accepted, err := w.claims.Claim(ctx, key, w.lease)
	if err != nil {
		return w.nack(ctx, delivery, msg, startedAt, err)
	}
	if !accepted {
		return w.duplicate(ctx, delivery, msg, key, startedAt)
	}

	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
	_, err = w.processor.Consume(ctx, msg)
	if err != nil {
		// the queue enforces the redelivery delay, the claim is released now
		_ = w.claims.Fail(ctx, claimID, err, time.Time{})
		return w.nack(ctx, delivery, msg, startedAt, err)
	}
	if err := w.claims.Complete(ctx, claimID); err != nil {
		w.observer.Warn(ctx, "relay claim completion failed", map[string]any{
			"tenant":     msg.Tenant,
			"message_id": msg.ID,
			"error":      err.Error(),
		})
	}
	if err := delivery.Ack(ctx); err != nil && !errors.Is(err, ErrReceiptExpired) {
		return err
	}
	if w.hook != nil {
		event.Duration = time.Since(startedAt)
		w.hook.OnSuccess(ctx, event)
	}
	return nil
}

// duplicate settles a delivery whose key is already claimed. Only a completed
// claim is acked. A claim still in flight, or waiting for its retry time,
// keeps the message: it is released to become visible again once the claim
// can be decided.
func (w *Worker) duplicate(ctx context.Context, delivery queue.Delivery, msg core.RelayMessage, key string, startedAt time.Time) error {
	state, err := w.claims.State(ctx, key)
	if err != nil {
		return w.nack(ctx, delivery, msg, startedAt, err)
	}
	fields := map[string]any{
		"tenant":       msg.Tenant,
		"message_id":   msg.ID,
		"attempt":      msg.Attempt,
		"claim_status": string(state.Status),
	}
	if state.Status == core.ClaimStatusComplete {
		w.observer.Info(ctx, "duplicate relay delivery skipped", fields)
		if err := delivery.Ack(ctx); err != nil && !errors.Is(err, ErrReceiptExpired) {
			return err
		}
		return nil
	}

	delay := state.Until.Sub(w.now())
	if delay < minReleaseDelay {
		delay = minReleaseDelay
	}
	fields["delay_ms"] = delay.Milliseconds()
	w.observer.Info(ctx, "duplicate relay delivery deferred", fields)
	if releaser, ok := delivery.(interface {
		Release(ctx context.Context, delay time.Duration) error
	}); ok {
		return releaser.Release(ctx, delay)
	}
	return delivery.Nack(ctx, queue.NackOptions{
		Disposition: queue.NackDispositionRetry,
		Delay:       delay,
		Reason:      "claim in flight",
	})
}

func (w *Worker) nack(ctx context.Context, delivery queue.Delivery, msg core.RelayMessage, startedAt time.Time, cause error) error {
	delay := w.backoff.NextDelay(msg.Attempt)
	event := worker.Event{
		Message:   delivery.Message(),
		Delivery:  delivery,
		Attempt:   msg.Attempt,
		Delay:     delay,
		Err:       cause,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
	}
	if err := delivery.Nack(ctx, queue.NackOptions{
		Disposition: queue.NackDispositionRetry,
		Delay:       delay,
		Reason:      cause.Error(),
	}); err != nil {
		cause = errors.Join(cause, err)
	}
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
	return cause
}

// ClaimKey scopes the idempotency key of msg to its tenant. Messages without
// an explicit key are claimed by message id.
func ClaimKey(msg core.RelayMessage) string {
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key == "" {
		key = msg.ID
	}
	return strings.Join([]string{"relay", url.PathEscape(msg.Tenant), url.PathEscape(key)}, "::")
}

type relayDelivery interface {
	Relay() core.RelayMessage
}

func relayMessage(delivery queue.Delivery) (core.RelayMessage, error) {
	if typed, ok := delivery.(relayDelivery); ok {
		return typed.Relay(), nil
	}
	return gojob.FromExecutionMessage(delivery.Message())
}
