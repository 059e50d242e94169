package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDRelayDelivery  = "botfactory.relay.delivery"
	JobIDCommandPublish = "botfactory.commands.publish"
)

// Parameter keys carried by a relay execution message.
const (
	ParamTenant     = "tenant"
	ParamMessageID  = "message_id"
	ParamPayload    = "payload"
	ParamAttempt    = "attempt"
	ParamEnqueuedAt = "enqueued_at"
	ParamVisibleAt  = "visible_at"
	ParamReceipt    = "receipt_handle"
)

// RetryPolicy bounds redelivery so a failing message cannot loop forever.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps a nack for the given delivery attempt. A nack
// without a disposition is a retry. Once the attempt reaches MaxAttempts a
// retry becomes a dead letter when DeadLetterOnMax is set.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.Disposition == "" {
		out.Disposition = queue.NackDispositionRetry
	}
	if out.Disposition == queue.NackDispositionRetry && p.DeadLetterOnMax && p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Disposition = queue.NackDispositionDeadLetter
	}
	if out.Disposition != queue.NackDispositionRetry {
		out.Delay = 0
	}
	return out
}

// ToExecutionMessage maps a relay message to the go-job wire shape. The
// payload travels as a string parameter.
func ToExecutionMessage(jobID string, msg core.RelayMessage) *job.ExecutionMessage {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		jobID = JobIDRelayDelivery
	}
	params := map[string]any{
		ParamTenant:    msg.Tenant,
		ParamMessageID: msg.ID,
		ParamPayload:   string(msg.Payload),
		ParamAttempt:   msg.Attempt,
	}
	if !msg.EnqueuedAt.IsZero() {
		params[ParamEnqueuedAt] = msg.EnqueuedAt.UTC().Format(time.RFC3339Nano)
	}
	if !msg.VisibleAt.IsZero() {
		params[ParamVisibleAt] = msg.VisibleAt.UTC().Format(time.RFC3339Nano)
	}
	if msg.ReceiptHandle != "" {
		params[ParamReceipt] = msg.ReceiptHandle
	}
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     jobID,
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
}

// FromExecutionMessage maps a go-job message back into a relay message.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.RelayMessage, error) {
	if msg == nil {
		return core.RelayMessage{}, fmt.Errorf("gojob: execution message is required")
	}
	params := msg.Parameters
	out := core.RelayMessage{
		ID:             stringParam(params, ParamMessageID),
		Tenant:         stringParam(params, ParamTenant),
		Payload:        []byte(stringParam(params, ParamPayload)),
		ReceiptHandle:  stringParam(params, ParamReceipt),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
	attempt, err := intParam(params, ParamAttempt)
	if err != nil {
		return core.RelayMessage{}, err
	}
	out.Attempt = attempt
	if out.EnqueuedAt, err = timeParam(params, ParamEnqueuedAt); err != nil {
		return core.RelayMessage{}, err
	}
	if out.VisibleAt, err = timeParam(params, ParamVisibleAt); err != nil {
		return core.RelayMessage{}, err
	}
	return out, nil
}

// ObserverHook reports worker lifecycle events through an observer.
type ObserverHook struct {
	observer *core.Observer
}

func NewObserverHook(observer *core.Observer) *ObserverHook {
	if observer == nil {
		observer = core.NopObserver()
	}
	return &ObserverHook{observer: observer}
}

func (h *ObserverHook) OnStart(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.Debug(ctx, "relay delivery started", eventFields(event))
}

func (h *ObserverHook) OnSuccess(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.Observe(ctx, event.StartedAt, "relay_delivery", nil, eventFields(event))
}

func (h *ObserverHook) OnFailure(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.Observe(ctx, event.StartedAt, "relay_delivery", event.Err, eventFields(event))
}

func (h *ObserverHook) OnRetry(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	fields := eventFields(event)
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	h.observer.Warn(ctx, "relay delivery scheduled for retry", fields)
}

func eventFields(event worker.Event) map[string]any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	fields := map[string]any{
		"attempt": event.Attempt,
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Duration > 0 {
		fields["elapsed_ms"] = event.Duration.Milliseconds()
	}
	if message != nil {
		fields["job_id"] = message.JobID
		fields["tenant"] = stringParam(message.Parameters, ParamTenant)
		fields["message_id"] = stringParam(message.Parameters, ParamMessageID)
	}
	return fields
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	switch value := params[key].(type) {
	case string:
		return value
	case []byte:
		return string(value)
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}

func intParam(params map[string]any, key string) (int, error) {
	if params == nil {
		return 0, nil
	}
	switch value := params[key].(type) {
	case nil:
		return 0, nil
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		return int(value), nil
	case string:
		if strings.TrimSpace(value) == "" {
			return 0, nil
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("gojob: parameter %s: %w", key, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("gojob: parameter %s has unsupported type %T", key, value)
	}
}

func timeParam(params map[string]any, key string) (time.Time, error) {
	raw := strings.TrimSpace(stringParam(params, key))
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("gojob: parameter %s: %w", key, err)
	}
	return parsed, nil
}

var _ worker.Hook = (*ObserverHook)(nil)
