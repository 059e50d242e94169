package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-botfactory/adapters/gojob"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/idempotency"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue/worker"
)

func toExecution(msg core.RelayMessage) *job.ExecutionMessage {
	return gojob.ToExecutionMessage(gojob.JobIDRelayDelivery, msg)
}

type countingProcessor struct {
	mu   sync.Mutex
	seen []string
	fail error
}

func (p *countingProcessor) Consume(_ context.Context, msg core.RelayMessage) (core.ProcessingResult, error) {
	p.mu.Lock()
	p.seen = append(p.seen, msg.ID)
	fail := p.fail
	p.mu.Unlock()
	if fail != nil {
		return core.ProcessingResult{}, fail
	}
	return core.ProcessingResult{Reply: "ok"}, nil
}

func (p *countingProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

type recordingHook struct {
	mu       sync.Mutex
	starts   int
	success  int
	failures []worker.Event
}

func (h *recordingHook) OnStart(context.Context, worker.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts++
}

func (h *recordingHook) OnSuccess(context.Context, worker.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.success++
}

func (h *recordingHook) OnFailure(_ context.Context, event worker.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, event)
}

func (h *recordingHook) OnRetry(context.Context, worker.Event) {}

func TestWorker_ProcessesAndAcks(t *testing.T) {
	f := newFixture(t)
	q := f.open(t, "SimpBot")
	ctx := context.Background()
	if _, err := q.Send(ctx, []byte(`{"command":"taylor"}`), "interaction-1"); err != nil {
		t.Fatalf("send: %v", err)
	}
	processor := &countingProcessor{}
	hook := &recordingHook{}
	w := NewWorker(q, processor, idempotency.NewMemoryStore(), WithHook(hook))

	delivery, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := w.Handle(ctx, delivery); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if processor.calls() != 1 || hook.starts != 1 || hook.success != 1 {
		t.Fatalf("expected one processed delivery, calls=%d hook=%#v", processor.calls(), hook)
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Fatalf("expected message acked, depth=%d", depth)
	}
}

func TestWorker_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	q := f.open(t, "SimpBot")
	ctx := context.Background()
	claims := idempotency.NewMemoryStore()
	processor := &countingProcessor{}
	w := NewWorker(q, processor, claims)

	if _, err := q.Send(ctx, []byte("a"), "interaction-7"); err != nil {
		t.Fatalf("send: %v", err)
	}
	first, _ := q.Receive(ctx)
	if err := w.Handle(ctx, first); err != nil {
		t.Fatalf("handle first: %v", err)
	}

	// The gate retried and enqueued the same interaction twice.
	if _, err := q.Send(ctx, []byte("a"), "interaction-7"); err != nil {
		t.Fatalf("send duplicate: %v", err)
	}
	duplicate, _ := q.Receive(ctx)
	if err := w.Handle(ctx, duplicate); err != nil {
		t.Fatalf("handle duplicate: %v", err)
	}
	if processor.calls() != 1 {
		t.Fatalf("expected duplicate to be skipped, processor ran %d times", processor.calls())
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Fatalf("expected duplicate to be acked, depth=%d", depth)
	}
}

func TestWorker_RedeliveryAfterLostAckIsNoOp(t *testing.T) {
	f := newFixture(t)
	q := f.open(t, "SimpBot")
	ctx := context.Background()
	claims := idempotency.NewMemoryStore()
	processor := &countingProcessor{}
	w := NewWorker(q, processor, claims)

	if _, err := q.Send(ctx, []byte("a"), ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	first, _ := q.Receive(ctx)
	msg := first.Relay()
	claimID, accepted, err := claims.Claim(ctx, ClaimKey(msg), time.Minute)
	if err != nil || !accepted {
		t.Fatalf("claim: %v", err)
	}
	if _, err := processor.Consume(ctx, msg); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := claims.Complete(ctx, claimID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	f.clock.Advance(core.DefaultVisibilityTimeout)
	redelivered, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("expected redelivery, got %v", err)
	}
	if redelivered.Relay().Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", redelivered.Relay().Attempt)
	}
	if err := w.Handle(ctx, redelivered); err != nil {
		t.Fatalf("handle redelivery: %v", err)
	}
	if processor.calls() != 1 {
		t.Fatalf("expected redelivery to be a no-op, processor ran %d times", processor.calls())
	}
}

func TestWorker_FailureIsNackedWithBackoff(t *testing.T) {
	f := newFixture(t)
	q := f.open(t, "Watchdog2")
	ctx := context.Background()
	processor := &countingProcessor{fail: errors.New("storage unavailable")}
	hook := &recordingHook{}
	w := NewWorker(q, processor, idempotency.NewMemoryStore(),
		WithHook(hook),
		WithBackoff(ExponentialBackoff{Initial: 2 * time.Second, Max: 8 * time.Second}),
	)
	if _, err := q.Send(ctx, []byte("a"), ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	delivery, _ := q.Receive(ctx)
	if err := w.Handle(ctx, delivery); err == nil {
		t.Fatalf("expected processing error")
	}
	if len(hook.failures) != 1 || hook.failures[0].Delay != 2*time.Second {
		t.Fatalf("expected failure event with 2s delay, got %#v", hook.failures)
	}
	if _, err := q.Receive(ctx); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected nacked message hidden for the backoff, got %v", err)
	}

	f.clock.Advance(2 * time.Second)
	processor.mu.Lock()
	processor.fail = nil
	processor.mu.Unlock()
	retry, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("expected retry delivery: %v", err)
	}
	if err := w.Handle(ctx, retry); err != nil {
		t.Fatalf("handle retry: %v", err)
	}
	if processor.calls() != 2 {
		t.Fatalf("expected second attempt to run, got %d calls", processor.calls())
	}
}

func TestWorker_RunDrainsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	q := f.open(t, "SimpBot")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 5; i++ {
		if _, err := q.Send(ctx, []byte("m"), ""); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	processor := &countingProcessor{}
	w := NewWorker(q, processor, idempotency.NewMemoryStore(), WithConcurrency(3))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for processor.calls() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if processor.calls() != 5 {
		t.Fatalf("expected five processed messages, got %d", processor.calls())
	}
}

func TestExponentialBackoff(t *testing.T) {
	policy := ExponentialBackoff{}
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 10: 30 * time.Second}
	for attempt, want := range cases {
		if got := policy.NextDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestClaimKeyFallsBackToMessageID(t *testing.T) {
	if got := ClaimKey(core.RelayMessage{Tenant: "SimpBot", ID: "m-1"}); got != "relay::SimpBot::m-1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := ClaimKey(core.RelayMessage{Tenant: "SimpBot", ID: "m-1", IdempotencyKey: "i/1"}); got != "relay::SimpBot::i%2F1" {
		t.Fatalf("unexpected key %q", got)
	}
}

type blockingProcessor struct {
	started chan struct{}
	release chan error
	mu      sync.Mutex
	calls   int
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{started: make(chan struct{}, 1), release: make(chan error, 1)}
}

func (p *blockingProcessor) Consume(ctx context.Context, _ core.RelayMessage) (core.ProcessingResult, error) {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if !first {
		return core.ProcessingResult{Reply: "ok"}, nil
	}
	p.started <- struct{}{}
	select {
	case err := <-p.release:
		return core.ProcessingResult{}, err
	case <-ctx.Done():
		return core.ProcessingResult{}, ctx.Err()
	}
}

func (p *blockingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestWorker_InFlightDuplicateIsDeferredNotAcked(t *testing.T) {
	f := newFixture(t)
	q := f.open(t, "SimpBot")
	ctx := context.Background()
	claims := idempotency.NewMemoryStore()
	claims.Now = f.clock.Now
	processor := newBlockingProcessor()
	w := NewWorker(q, processor, claims, WithWorkerClock(f.clock.Now))

	if _, err := q.Send(ctx, []byte("a"), "interaction-9"); err != nil {
		t.Fatalf("send: %v", err)
	}
	first, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Handle(ctx, first) }()
	<-processor.started

	// The first attempt outlives the visibility timeout.
	f.clock.Advance(core.DefaultVisibilityTimeout + time.Second)
	second, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("expected redelivery while the first attempt runs: %v", err)
	}
	if err := w.Handle(ctx, second); err != nil {
		t.Fatalf("handle in-flight duplicate: %v", err)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Fatalf("expected in-flight duplicate to stay queued, depth=%d", depth)
	}
	if _, err := q.Receive(ctx); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected deferred duplicate to be hidden, got %v", err)
	}

	processor.release <- errors.New("storage down")
	if err := <-done; err == nil {
		t.Fatalf("expected first attempt to fail")
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Fatalf("expected message to survive the failed attempt, depth=%d", depth)
	}

	f.clock.Advance(defaultClaimLease)
	retry, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("expected the deferred message to come back: %v", err)
	}
	if err := w.Handle(ctx, retry); err != nil {
		t.Fatalf("handle retry: %v", err)
	}
	if processor.count() != 2 {
		t.Fatalf("expected the retry to be processed, got %d calls", processor.count())
	}
	if depth, _ := q.Depth(ctx); depth != 0 || f.sink.count() != 0 {
		t.Fatalf("expected message acked without dead letter, depth=%d dead letters=%d", depth, f.sink.count())
	}
}

func TestWorker_DuplicateOfCompletedClaimIsAcked(t *testing.T) {
	f := newFixture(t)
	q := f.open(t, "SimpBot")
	ctx := context.Background()
	claims := idempotency.NewMemoryStore()
	claims.Now = f.clock.Now
	processor := &countingProcessor{}
	w := NewWorker(q, processor, claims, WithWorkerClock(f.clock.Now))

	if _, err := q.Send(ctx, []byte("a"), "interaction-3"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, _ := q.Receive(ctx)
	claimID, accepted, err := claims.Claim(ctx, ClaimKey(msg.Relay()), time.Minute)
	if err != nil || !accepted {
		t.Fatalf("claim: accepted=%v err=%v", accepted, err)
	}
	if err := claims.Complete(ctx, claimID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := w.Handle(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if processor.calls() != 0 {
		t.Fatalf("expected completed claim to skip processing")
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Fatalf("expected completed duplicate to be acked, depth=%d", depth)
	}
}
