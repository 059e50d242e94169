package plugins

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/core"
	goerrors "github.com/goliatone/go-errors"
)

// infrastructureError marks a failure the relay should redeliver.
type infrastructureError struct {
	err error
}

func (e infrastructureError) Error() string { return e.err.Error() }

func (e infrastructureError) Unwrap() error { return e.err }

// Infrastructure wraps err so the processor nacks instead of replying.
func Infrastructure(err error) error {
	if err == nil {
		return nil
	}
	return infrastructureError{err: err}
}

func IsInfrastructure(err error) bool {
	var target infrastructureError
	return errors.As(err, &target)
}

// Session is what a command handler sees for one message.
type Session struct {
	Tenant    string
	Message   core.RelayMessage
	Secret    core.BotSecret
	Messenger Messenger
	Env       map[string]string
	Now       time.Time
}

// Handler executes one command and returns the channel reply. A plain error
// is shown to the channel; an Infrastructure error triggers redelivery.
type Handler func(ctx context.Context, session Session, cmd Command) (string, error)

// Dispatcher routes command events to handlers. It is the Processor every
// built-in plugin returns.
type Dispatcher struct {
	deps     Deps
	handlers map[string]Handler
	observer *core.Observer
}

func NewDispatcher(deps Deps, handlers map[string]Handler) (*Dispatcher, error) {
	if deps.Credential.IsZero() || deps.Secrets == nil {
		return nil, core.BadInputError("plugins: credential handle and resolver are required", map[string]any{"tenant": deps.Tenant})
	}
	if !deps.Credential.AllowsReader(core.RoleProcessor) {
		return nil, core.AccessDeniedError("plugins: credential is not readable by the processor role", map[string]any{"tenant": deps.Tenant})
	}
	if deps.Messenger == nil {
		deps.Messenger = DefaultMessengerFactory()
	}
	observer := deps.Observer
	if observer == nil {
		observer = core.NopObserver()
	}
	routes := make(map[string]Handler, len(handlers))
	for name, handler := range handlers {
		if handler != nil {
			routes[strings.TrimSpace(name)] = handler
		}
	}
	return &Dispatcher{deps: deps, handlers: routes, observer: observer}, nil
}

func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Consume handles one relay message. Every outcome that reached a handler is
// acknowledged; only secret and storage failures are returned.
func (d *Dispatcher) Consume(ctx context.Context, msg core.RelayMessage) (result core.ProcessingResult, err error) {
	startedAt := time.Now()
	defer func() {
		d.observer.Observe(ctx, startedAt, "consume", err, map[string]any{
			"tenant":     d.deps.Tenant,
			"command":    result.Command,
			"message_id": msg.ID,
			"attempt":    msg.Attempt,
			"failed":     result.Failed,
		})
	}()

	if msg.Tenant != "" && msg.Tenant != d.deps.Tenant {
		return result, core.AccessDeniedError("plugins: message addressed to another tenant", map[string]any{
			"tenant":     d.deps.Tenant,
			"message_id": msg.ID,
		})
	}
	cmd, err := ParseCommand(msg.Payload)
	if err != nil {
		d.observer.Warn(ctx, "malformed command event dropped", map[string]any{
			"tenant":     d.deps.Tenant,
			"message_id": msg.ID,
			"error":      err.Error(),
		})
		return core.ProcessingResult{Failed: true}, nil
	}
	result.Command = cmd.Command
	result.ChannelID = cmd.ChannelID

	handler, ok := d.handlers[cmd.Command]
	if !ok {
		d.observer.Warn(ctx, "unknown command ignored", map[string]any{
			"tenant":  d.deps.Tenant,
			"command": cmd.Command,
		})
		result.Failed = true
		return result, nil
	}

	secret, err := d.deps.Secrets.Resolve(ctx, d.deps.Credential, core.RoleProcessor)
	if err != nil {
		return result, core.WrapError(err, goerrors.CategoryInternal, "plugins: resolve bot secret", core.ErrorInternal, map[string]any{"tenant": d.deps.Tenant})
	}
	messenger := d.deps.Messenger(secret.Token)
	session := Session{
		Tenant:    d.deps.Tenant,
		Message:   msg,
		Secret:    secret,
		Messenger: messenger,
		Env:       core.CloneEnv(d.deps.Env),
		Now:       d.deps.now(),
	}

	reply, handlerErr := handler(ctx, session, cmd)
	if handlerErr != nil {
		if IsInfrastructure(handlerErr) {
			return result, handlerErr
		}
		result.Failed = true
		reply = handlerErr.Error()
	}
	result.Reply = reply
	if reply == "" || cmd.ChannelID == "" {
		return result, nil
	}
	if sendErr := messenger.SendMessage(ctx, cmd.ChannelID, reply); sendErr != nil {
		// the command already ran; redelivery would repeat its side effects
		d.observer.Error(ctx, "channel reply failed", map[string]any{
			"tenant":     d.deps.Tenant,
			"command":    cmd.Command,
			"channel_id": cmd.ChannelID,
			"error":      sendErr.Error(),
		})
		result.Metadata = map[string]any{"reply_failed": true}
	}
	return result, nil
}

var _ core.Processor = (*Dispatcher)(nil)
