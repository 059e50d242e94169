// Package gate is the synchronous webhook receiver of a tenant. It verifies an
// interaction, classifies it and enqueues the work before answering. It holds
// no business logic: everything past the enqueue belongs to the processor.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/adapters/gojob"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/credentials"
	"github.com/goliatone/go-botfactory/status"
	"github.com/goliatone/go-job/queue"
	"github.com/google/uuid"
)

// Request is one raw inbound webhook call.
type Request struct {
	Tenant  string
	Headers http.Header
	Body    []byte
}

// Result is the structured gate outcome. Text carries the marker rendering
// used at the boundary; Body is the interaction response for accepted
// requests.
type Result struct {
	Outcome   core.Outcome
	Reason    string
	Text      string
	Body      []byte
	MessageID string
	Ping      bool
}

func (r Result) StatusCode() int {
	return status.Code(r.Outcome)
}

type Config struct {
	Tenant     string
	Credential core.CredentialHandle
	Secrets    credentials.Resolver
	Queue      queue.Enqueuer
}

type Option func(*Gate)

func WithTimeout(timeout time.Duration) Option {
	return func(g *Gate) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

func WithMaxBodyBytes(limit int64) Option {
	return func(g *Gate) {
		if limit > 0 {
			g.maxBody = limit
		}
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(g *Gate) {
		if observer != nil {
			g.observer = observer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

type Gate struct {
	tenant     string
	credential core.CredentialHandle
	secrets    credentials.Resolver
	queue      queue.Enqueuer
	timeout    time.Duration
	maxBody    int64
	observer   *core.Observer
	now        func() time.Time
}

func New(cfg Config, opts ...Option) (*Gate, error) {
	if strings.TrimSpace(cfg.Tenant) == "" {
		return nil, core.BadInputError("gate: tenant is required", nil)
	}
	if cfg.Credential.IsZero() || cfg.Secrets == nil {
		return nil, core.BadInputError("gate: credential handle and resolver are required", map[string]any{"tenant": cfg.Tenant})
	}
	if !cfg.Credential.AllowsReader(core.RoleGate) {
		return nil, core.AccessDeniedError("gate: credential is not readable by the gate role", map[string]any{"tenant": cfg.Tenant})
	}
	if cfg.Queue == nil {
		return nil, core.BadInputError("gate: queue is required", map[string]any{"tenant": cfg.Tenant})
	}
	g := &Gate{
		tenant:     cfg.Tenant,
		credential: cfg.Credential,
		secrets:    cfg.Secrets,
		queue:      cfg.Queue,
		timeout:    core.DefaultGateTimeout,
		maxBody:    1 << 20,
		observer:   core.NopObserver(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *Gate) Tenant() string { return g.tenant }

func (g *Gate) MaxBodyBytes() int64 { return g.maxBody }

// Handle runs one request through verification, parsing and enqueue within the
// gate timeout. It never reports Accepted for a command that was not enqueued.
func (g *Gate) Handle(ctx context.Context, req Request) (result Result) {
	startedAt := time.Now()
	defer func() {
		var err error
		if result.Outcome != core.OutcomeAccepted {
			err = errors.New(result.Reason)
		}
		g.observer.Observe(ctx, startedAt, "handle_interaction", err, map[string]any{
			"tenant":     g.tenant,
			"outcome":    result.Outcome.String(),
			"message_id": result.MessageID,
			"ping":       result.Ping,
		})
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if req.Tenant != "" && req.Tenant != g.tenant {
		return reject(core.OutcomeUnauthorized, "Invalid request signature: request addressed to another tenant")
	}
	secret, err := g.secrets.Resolve(ctx, g.credential, core.RoleGate)
	if err != nil {
		if ctx.Err() != nil {
			return reject(core.OutcomeInternalError, "gate timed out")
		}
		return reject(core.OutcomeInternalError, "bot secret unavailable")
	}
	if err := Verify(secret.PublicKey, req.Headers, req.Body); err != nil {
		return reject(core.OutcomeUnauthorized, "Invalid request signature: "+err.Error())
	}
	// The limit applies to verified requests only.
	if int64(len(req.Body)) > g.maxBody {
		return reject(core.OutcomeBadRequest, "payload exceeds the body limit")
	}

	in, err := parseInteraction(req.Body)
	if err != nil {
		return reject(core.OutcomeBadRequest, err.Error())
	}
	switch in.Type {
	case InteractionPing:
		body := pongBody()
		return Result{Outcome: core.OutcomeAccepted, Text: string(body), Body: body, Ping: true}
	case InteractionApplicationCommand:
	default:
		return reject(core.OutcomeBadRequest, "unsupported interaction type")
	}

	event, err := commandEvent(in, req.Body)
	if err != nil {
		return reject(core.OutcomeBadRequest, err.Error())
	}
	messageID, err := g.enqueue(ctx, in.ID, event)
	if err != nil {
		return reject(core.OutcomeInternalError, err.Error())
	}
	body := acknowledgeBody()
	return Result{Outcome: core.OutcomeAccepted, Text: string(body), Body: body, MessageID: messageID}
}

// enqueue returns once the queue confirmed the write or the gate deadline
// passed, whichever happens first.
func (g *Gate) enqueue(ctx context.Context, interactionID string, event core.CommandEvent) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", errors.New("encode relay payload")
	}
	msg := core.RelayMessage{
		ID:             uuid.NewString(),
		Tenant:         g.tenant,
		Payload:        payload,
		EnqueuedAt:     g.now(),
		IdempotencyKey: strings.TrimSpace(interactionID),
	}
	done := make(chan error, 1)
	go func() {
		_, err := g.queue.Enqueue(ctx, gojob.ToExecutionMessage(gojob.JobIDRelayDelivery, msg))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			g.observer.Warn(ctx, "relay enqueue failed", map[string]any{
				"tenant": g.tenant,
				"error":  err.Error(),
			})
			return "", errors.New("enqueue failed")
		}
		return msg.ID, nil
	case <-ctx.Done():
		return "", errors.New("gate timed out before enqueue was confirmed")
	}
}

func reject(outcome core.Outcome, reason string) Result {
	return Result{Outcome: outcome, Reason: reason, Text: status.Render(outcome, reason)}
}
