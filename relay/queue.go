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
	"github.com/goliatone/go-botfactory/security"
	goerrors "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/google/uuid"
)

const queueURLPrefix = "relay://queues/"

// Handle is what createRelay hands to the rest of the tenant graph.
type Handle struct {
	Tenant            string
	ID                string
	URL               string
	DeadLetterID      string
	KeyAlias          string
	VisibilityTimeout time.Duration
	MaxAttempts       int
}

// QueueURL is the value exported to compute units as QUEUE_URL.
func QueueURL(queueID string) string {
	return queueURLPrefix + url.PathEscape(queueID)
}

func ParseQueueURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, queueURLPrefix) {
		return "", fmt.Errorf("relay: unsupported queue url %q", raw)
	}
	queueID, err := url.PathUnescape(strings.TrimPrefix(raw, queueURLPrefix))
	if err != nil || queueID == "" {
		return "", fmt.Errorf("relay: invalid queue url %q", raw)
	}
	return queueID, nil
}

type Option func(*Manager)

func WithVisibilityTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.visibility = timeout
		}
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.maxAttempts = attempts
		}
	}
}

func WithMaxDelay(delay time.Duration) Option {
	return func(m *Manager) {
		if delay > 0 {
			m.maxDelay = delay
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

func WithDeadLetterSink(sink core.DeadLetterSink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(m *Manager) {
		if observer != nil {
			m.observer = observer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager provisions tenant queues and opens them for sending and receiving.
type Manager struct {
	store        Store
	keys         *security.KeyRing
	sink         core.DeadLetterSink
	observer     *core.Observer
	visibility   time.Duration
	maxAttempts  int
	maxDelay     time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

func NewManager(store Store, keys *security.KeyRing, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	manager := &Manager{
		store:        store,
		keys:         keys,
		observer:     core.NopObserver(),
		visibility:   core.DefaultVisibilityTimeout,
		maxAttempts:  core.DefaultMaxAttempts,
		maxDelay:     30 * time.Second,
		pollInterval: time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager
}

// Create provisions the tenant queue, its dead letter queue and its rotating
// key. Existing resources owned by the same tenant are imported.
func (m *Manager) Create(ctx context.Context, record core.NamingRecord) (handle Handle, created bool, err error) {
	startedAt := time.Now()
	defer func() {
		m.observer.Observe(ctx, startedAt, "create_relay", err, map[string]any{
			"tenant":  record.Tenant,
			"queue":   record.QueueID,
			"created": created,
		})
	}()
	if m.keys == nil {
		return Handle{}, false, core.InternalError("relay: key ring is required", nil)
	}
	if _, _, err = m.keys.Ensure(ctx, record.Tenant, record.QueueKeyAlias); err != nil {
		return Handle{}, false, relayWrapError(err, "relay: ensure queue key", record.Tenant, record.QueueID)
	}

	now := m.now()
	deadLetter := QueueRecord{
		ID:        record.DeadLetterQueueID,
		Tenant:    record.Tenant,
		KeyAlias:  record.QueueKeyAlias,
		CreatedAt: now,
	}
	live := QueueRecord{
		ID:                record.QueueID,
		Tenant:            record.Tenant,
		KeyAlias:          record.QueueKeyAlias,
		DeadLetterID:      record.DeadLetterQueueID,
		VisibilityTimeout: m.visibility,
		MaxAttempts:       m.maxAttempts,
		CreatedAt:         now,
	}
	for _, queueRecord := range []QueueRecord{deadLetter, live} {
		existing, getErr := m.store.GetQueue(ctx, queueRecord.ID)
		if getErr == nil {
			if existing.Tenant != record.Tenant {
				return Handle{}, false, core.AccessDeniedError("relay: queue belongs to another tenant", map[string]any{
					"tenant": record.Tenant,
					"queue":  queueRecord.ID,
				})
			}
			continue
		}
		if !errors.Is(getErr, ErrQueueNotFound) {
			return Handle{}, false, relayWrapError(getErr, "relay: lookup queue", record.Tenant, queueRecord.ID)
		}
		ok, createErr := m.store.CreateQueue(ctx, queueRecord)
		if createErr != nil {
			return Handle{}, false, relayWrapError(createErr, "relay: create queue", record.Tenant, queueRecord.ID)
		}
		if queueRecord.ID == live.ID {
			created = ok
		}
	}

	stored, err := m.store.GetQueue(ctx, record.QueueID)
	if err != nil {
		return Handle{}, false, relayWrapError(err, "relay: reload queue", record.Tenant, record.QueueID)
	}
	return handleFor(stored), created, nil
}

// Open returns the queue for sending and receiving.
func (m *Manager) Open(ctx context.Context, queueID string) (*Queue, error) {
	record, err := m.store.GetQueue(ctx, queueID)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			return nil, core.NewError("relay: queue not found", goerrors.CategoryNotFound, core.ErrorTenantNotFound, map[string]any{"queue": queueID})
		}
		return nil, err
	}
	return &Queue{
		manager: m,
		record:  record,
		policy: gojob.RetryPolicy{
			MaxAttempts:     record.MaxAttempts,
			MaxDelay:        m.maxDelay,
			DeadLetterOnMax: true,
		},
	}, nil
}

// Destroy removes the queue, its dead letter queue and its key. Destroying a
// missing queue is not an error.
func (m *Manager) Destroy(ctx context.Context, queueID string) (err error) {
	startedAt := time.Now()
	record, err := m.store.GetQueue(ctx, queueID)
	if errors.Is(err, ErrQueueNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		m.observer.Observe(ctx, startedAt, "destroy_relay", err, map[string]any{
			"tenant": record.Tenant,
			"queue":  queueID,
		})
	}()
	if record.DeadLetterID != "" {
		if err = m.store.DeleteQueue(ctx, record.DeadLetterID); err != nil && !errors.Is(err, ErrQueueNotFound) {
			return err
		}
	}
	if err = m.store.DeleteQueue(ctx, queueID); err != nil && !errors.Is(err, ErrQueueNotFound) {
		return err
	}
	err = nil
	if m.keys != nil && record.KeyAlias != "" {
		err = m.keys.Destroy(ctx, record.KeyAlias)
	}
	return err
}

// Depth counts messages held by queueID, in flight or not.
func (m *Manager) Depth(ctx context.Context, queueID string) (int, error) {
	return m.store.Depth(ctx, queueID)
}

// DeadLetters lists the messages parked on the dead letter queue of queueID.
func (m *Manager) DeadLetters(ctx context.Context, queueID string) ([]core.DeadLetter, error) {
	record, err := m.store.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	stored, err := m.store.List(ctx, record.DeadLetterID)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeadLetter, 0, len(stored))
	for _, msg := range stored {
		out = append(out, core.DeadLetter{
			ID:        msg.ID,
			Tenant:    msg.Tenant,
			QueueID:   queueID,
			MessageID: msg.ID,
			Payload:   msg.Body,
			Attempts:  msg.Attempts,
			Reason:    msg.Reason,
			FailedAt:  msg.EnqueuedAt,
		})
	}
	return out, nil
}

func handleFor(record QueueRecord) Handle {
	return Handle{
		Tenant:            record.Tenant,
		ID:                record.ID,
		URL:               QueueURL(record.ID),
		DeadLetterID:      record.DeadLetterID,
		KeyAlias:          record.KeyAlias,
		VisibilityTimeout: record.VisibilityTimeout,
		MaxAttempts:       record.MaxAttempts,
	}
}

// Queue is one tenant relay. It is the go-job Enqueuer for the gate and the
// go-job Dequeuer for the processor.
type Queue struct {
	manager *Manager
	record  QueueRecord
	policy  gojob.RetryPolicy
}

func (q *Queue) ID() string { return q.record.ID }

func (q *Queue) Tenant() string { return q.record.Tenant }

func (q *Queue) Handle() Handle { return handleFor(q.record) }

// Send seals payload with the tenant queue key and stores it.
func (q *Queue) Send(ctx context.Context, payload []byte, idempotencyKey string) (core.RelayMessage, error) {
	return q.send(ctx, uuid.NewString(), payload, idempotencyKey)
}

func (q *Queue) send(ctx context.Context, id string, payload []byte, idempotencyKey string) (core.RelayMessage, error) {
	provider, err := q.manager.keys.Provider(ctx, q.record.KeyAlias)
	if err != nil {
		return core.RelayMessage{}, relayWrapError(err, "relay: load queue key", q.record.Tenant, q.record.ID)
	}
	body, err := provider.Encrypt(ctx, payload)
	if err != nil {
		return core.RelayMessage{}, relayWrapError(err, "relay: seal message", q.record.Tenant, q.record.ID)
	}
	now := q.manager.now()
	stored := StoredMessage{
		ID:             id,
		QueueID:        q.record.ID,
		Tenant:         q.record.Tenant,
		Body:           body,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		EnqueuedAt:     now,
		VisibleAt:      now,
	}
	if err := q.manager.store.Insert(ctx, stored); err != nil {
		return core.RelayMessage{}, relayWrapError(err, "relay: store message", q.record.Tenant, q.record.ID)
	}
	return core.RelayMessage{
		ID:             stored.ID,
		Tenant:         stored.Tenant,
		Payload:        append([]byte(nil), payload...),
		EnqueuedAt:     stored.EnqueuedAt,
		VisibleAt:      stored.VisibleAt,
		IdempotencyKey: stored.IdempotencyKey,
	}, nil
}

// Enqueue implements queue.Enqueuer. The receipt carries the relay message
// id as the dispatch id.
func (q *Queue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	relayMsg, err := gojob.FromExecutionMessage(msg)
	if err != nil {
		return queue.EnqueueReceipt{}, core.BadInputError(err.Error(), map[string]any{"queue": q.record.ID})
	}
	if relayMsg.Tenant != "" && relayMsg.Tenant != q.record.Tenant {
		return queue.EnqueueReceipt{}, core.AccessDeniedError("relay: message addressed to another tenant", map[string]any{
			"tenant": q.record.Tenant,
			"queue":  q.record.ID,
		})
	}
	id := strings.TrimSpace(relayMsg.ID)
	if id == "" {
		id = uuid.NewString()
	}
	sent, err := q.send(ctx, id, relayMsg.Payload, relayMsg.IdempotencyKey)
	if err != nil {
		return queue.EnqueueReceipt{}, err
	}
	return queue.EnqueueReceipt{DispatchID: sent.ID, EnqueuedAt: sent.EnqueuedAt}, nil
}

// Receive leases the next visible message. Messages already received more
// than the allowed attempts are moved to the dead letter queue instead of
// being handed out. It returns ErrQueueEmpty when nothing is visible.
func (q *Queue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		stored, err := q.manager.store.Receive(ctx, q.record.ID, q.manager.now(), q.visibility())
		if err != nil {
			return nil, err
		}
		if q.record.MaxAttempts > 0 && stored.Attempts > q.record.MaxAttempts {
			if err := q.expire(ctx, stored, "max receive count exceeded"); err != nil {
				return nil, err
			}
			continue
		}
		provider, err := q.manager.keys.Provider(ctx, q.record.KeyAlias)
		if err != nil {
			return nil, relayWrapError(err, "relay: load queue key", q.record.Tenant, q.record.ID)
		}
		payload, err := provider.Decrypt(ctx, stored.Body)
		if err != nil {
			return nil, relayWrapError(err, "relay: open message", q.record.Tenant, q.record.ID)
		}
		return &Delivery{
			queue:  q,
			stored: stored,
			message: core.RelayMessage{
				ID:             stored.ID,
				Tenant:         stored.Tenant,
				Payload:        payload,
				EnqueuedAt:     stored.EnqueuedAt,
				Attempt:        stored.Attempts,
				VisibleAt:      stored.VisibleAt,
				ReceiptHandle:  stored.ReceiptHandle,
				IdempotencyKey: stored.IdempotencyKey,
			},
		}, nil
	}
}

// Dequeue implements queue.Dequeuer. It polls until a message is visible or
// ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		delivery, err := q.Receive(ctx)
		if err == nil {
			return delivery, nil
		}
		if !errors.Is(err, ErrQueueEmpty) {
			return nil, err
		}
		timer := time.NewTimer(q.manager.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.manager.store.Depth(ctx, q.record.ID)
}

func (q *Queue) visibility() time.Duration {
	if q.record.VisibilityTimeout > 0 {
		return q.record.VisibilityTimeout
	}
	return q.manager.visibility
}

// expire parks the message on the dead letter queue before removing it from
// the live queue, then notifies the dead letter sink.
func (q *Queue) expire(ctx context.Context, stored StoredMessage, reason string) error {
	parked := stored
	parked.QueueID = q.record.DeadLetterID
	parked.ReceiptHandle = ""
	parked.Reason = reason
	parked.VisibleAt = time.Time{}
	parked.EnqueuedAt = q.manager.now()
	if q.record.DeadLetterID != "" {
		if err := q.manager.store.Insert(ctx, parked); err != nil {
			return relayWrapError(err, "relay: park dead letter", q.record.Tenant, q.record.ID)
		}
	}
	if err := q.manager.store.Delete(ctx, q.record.ID, stored.ReceiptHandle); err != nil && !errors.Is(err, ErrReceiptExpired) {
		return relayWrapError(err, "relay: remove expired message", q.record.Tenant, q.record.ID)
	}

	expired := core.DeliveryExpiredError(q.record.Tenant, stored.ID, stored.Attempts)
	fields := map[string]any{
		"tenant":      q.record.Tenant,
		"queue":       q.record.ID,
		"dead_letter": q.record.DeadLetterID,
		"message_id":  stored.ID,
		"attempts":    stored.Attempts,
		"reason":      reason,
		"error":       expired.Error(),
	}
	q.manager.observer.Error(ctx, "relay message dead lettered", fields)
	q.manager.observer.Metrics().IncCounter(ctx, "botfactory.relay.dead_letter.total", 1, map[string]string{"tenant": q.record.Tenant})

	if q.manager.sink == nil {
		return nil
	}
	letter := core.DeadLetter{
		ID:        uuid.NewString(),
		Tenant:    q.record.Tenant,
		QueueID:   q.record.ID,
		MessageID: stored.ID,
		Payload:   stored.Body,
		Attempts:  stored.Attempts,
		Reason:    reason,
		FailedAt:  parked.EnqueuedAt,
	}
	if err := q.manager.sink.Publish(ctx, letter); err != nil {
		fields["sink_error"] = err.Error()
		q.manager.observer.Warn(ctx, "dead letter sink publish failed", fields)
	}
	return nil
}

// Delivery is one leased message. It implements queue.Delivery.
type Delivery struct {
	queue   *Queue
	stored  StoredMessage
	message core.RelayMessage

	mu      sync.Mutex
	settled bool
}

func (d *Delivery) Message() *job.ExecutionMessage {
	return gojob.ToExecutionMessage(gojob.JobIDRelayDelivery, d.message)
}

// Relay returns the decoded relay message.
func (d *Delivery) Relay() core.RelayMessage {
	out := d.message
	out.Payload = append([]byte(nil), d.message.Payload...)
	return out
}

func (d *Delivery) Ack(ctx context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}
	return d.queue.manager.store.Delete(ctx, d.queue.record.ID, d.stored.ReceiptHandle)
}

// Nack returns the message to the queue after opts.Delay, or dead letters it
// once the retry policy says so.
func (d *Delivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if err := d.settle(); err != nil {
		return err
	}
	normalized := d.queue.policy.NormalizeAttempt(opts, d.stored.Attempts)
	if normalized.Disposition != queue.NackDispositionRetry {
		reason := normalized.Reason
		if reason == "" {
			reason = "processing failed"
		}
		return d.queue.expire(ctx, d.stored, reason)
	}
	visibleAt := d.queue.manager.now().Add(normalized.Delay)
	return d.queue.manager.store.Release(ctx, d.queue.record.ID, d.stored.ReceiptHandle, visibleAt)
}

// Release returns the message to the queue after delay without consulting
// the retry policy.
func (d *Delivery) Release(ctx context.Context, delay time.Duration) error {
	if err := d.settle(); err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}
	visibleAt := d.queue.manager.now().Add(delay)
	return d.queue.manager.store.Release(ctx, d.queue.record.ID, d.stored.ReceiptHandle, visibleAt)
}

func (d *Delivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("relay: delivery %s already settled", d.stored.ID)
	}
	d.settled = true
	return nil
}

func relayWrapError(err error, message string, tenant string, queueID string) error {
	return core.WrapError(err, goerrors.CategoryInternal, message, core.ErrorInternal, map[string]any{
		"tenant": tenant,
		"queue":  queueID,
	})
}

var (
	_ queue.Enqueuer  = (*Queue)(nil)
	_ queue.Dequeuer  = (*Queue)(nil)
	_ queue.Delivery  = (*Delivery)(nil)
	_ core.QueueDepth = (*Manager)(nil)
)
