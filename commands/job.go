// Package commands publishes a tenant's command set to Discord, on a schedule
// or on demand. A run that fails is recorded and reported; it is never
// retried by the job itself.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/credentials"
	"github.com/goliatone/go-botfactory/discord"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const DefaultTimeout = 5 * time.Minute

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCompose  = "compose"

	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Publisher registers one command for an application.
type Publisher interface {
	RegisterCommand(ctx context.Context, applicationID string, command core.CommandDefinition) error
}

type PublisherFactory func(token string) Publisher

func DefaultPublisherFactory(opts ...discord.Option) PublisherFactory {
	return func(token string) Publisher {
		return discord.NewClient(token, opts...)
	}
}

// Env is the only configuration a command job receives.
type Env struct {
	SecretName string `env:"SECRET_NAME,required"`
}

func ParseEnv(environment map[string]string) (Env, error) {
	var out Env
	if err := env.ParseWithOptions(&out, env.Options{Environment: environment}); err != nil {
		return Env{}, core.BadInputError("commands: invalid job env: "+err.Error(), nil)
	}
	return out, nil
}

// Run is one recorded publication attempt.
type Run struct {
	ID         string
	Tenant     string
	JobID      string
	Trigger    string
	Status     string
	Published  int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

type Config struct {
	Tenant     string
	JobID      string
	Env        map[string]string
	Credential core.CredentialHandle
	Secrets    credentials.Resolver
	Commands   []core.CommandDefinition
}

type Job struct {
	cfg       Config
	publisher PublisherFactory
	runs      RunStore
	timeout   time.Duration
	observer  *core.Observer
	now       func() time.Time
}

type Option func(*Job)

func WithPublisher(factory PublisherFactory) Option {
	return func(j *Job) {
		if factory != nil {
			j.publisher = factory
		}
	}
}

func WithRunStore(store RunStore) Option {
	return func(j *Job) {
		if store != nil {
			j.runs = store
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(j *Job) {
		if timeout > 0 {
			j.timeout = timeout
		}
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(j *Job) {
		if observer != nil {
			j.observer = observer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJob validates that the job env carries the secret reference of the
// handle it was given and that the handle admits the processor role.
func NewJob(cfg Config, opts ...Option) (*Job, error) {
	if strings.TrimSpace(cfg.Tenant) == "" {
		return nil, core.BadInputError("commands: tenant is required", nil)
	}
	if cfg.Secrets == nil || cfg.Credential.IsZero() {
		return nil, core.BadInputError("commands: credential handle and resolver are required", map[string]any{"tenant": cfg.Tenant})
	}
	if !cfg.Credential.AllowsReader(core.RoleProcessor) {
		return nil, core.AccessDeniedError("commands: credential is not readable by the processor role", map[string]any{"tenant": cfg.Tenant})
	}
	jobEnv, err := ParseEnv(cfg.Env)
	if err != nil {
		return nil, err
	}
	if jobEnv.SecretName != cfg.Credential.Name {
		return nil, core.AccessDeniedError("commands: job env references a foreign secret", map[string]any{"tenant": cfg.Tenant})
	}
	if len(cfg.Env) != 1 {
		return nil, core.PolicyViolationError("commands: job env must only carry SECRET_NAME", map[string]any{"tenant": cfg.Tenant})
	}
	job := &Job{
		cfg:       cfg,
		publisher: DefaultPublisherFactory(),
		runs:      NewMemoryRunStore(),
		timeout:   DefaultTimeout,
		observer:  core.NopObserver(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(job)
		}
	}
	return job, nil
}

func (j *Job) Tenant() string { return j.cfg.Tenant }

func (j *Job) Commands() []core.CommandDefinition {
	return append([]core.CommandDefinition(nil), j.cfg.Commands...)
}

// Publish posts every command definition once and records the run.
func (j *Job) Publish(ctx context.Context, trigger string) (run Run, err error) {
	if trigger == "" {
		trigger = TriggerManual
	}
	run = Run{
		ID:        uuid.NewString(),
		Tenant:    j.cfg.Tenant,
		JobID:     j.cfg.JobID,
		Trigger:   trigger,
		StartedAt: j.now().UTC(),
	}
	startedAt := time.Now()
	defer func() {
		j.observer.Observe(ctx, startedAt, "publish_commands", err, map[string]any{
			"tenant":    j.cfg.Tenant,
			"trigger":   trigger,
			"published": run.Published,
			"run_id":    run.ID,
		})
	}()

	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	err = j.publish(runCtx, &run)
	run.FinishedAt = j.now().UTC()
	run.Status = StatusSucceeded
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	}
	if recordErr := j.runs.Record(ctx, run); recordErr != nil {
		j.observer.Warn(ctx, "command run not recorded", map[string]any{
			"tenant": j.cfg.Tenant,
			"run_id": run.ID,
			"error":  recordErr.Error(),
		})
	}
	return run, err
}

func (j *Job) publish(ctx context.Context, run *Run) error {
	secret, err := j.cfg.Secrets.Resolve(ctx, j.cfg.Credential, core.RoleProcessor)
	if err != nil {
		return publishError(err, j.cfg.Tenant, "resolve bot secret")
	}
	publisher := j.publisher(secret.Token)
	for _, command := range j.cfg.Commands {
		if err := publisher.RegisterCommand(ctx, secret.ApplicationID, command); err != nil {
			return publishError(err, j.cfg.Tenant, fmt.Sprintf("register command %s", command.Name))
		}
		run.Published++
	}
	return nil
}

func publishError(err error, tenant string, step string) error {
	return core.WrapError(err, goerrors.CategoryExternal, "commands: "+step, core.ErrorCommandPublish, map[string]any{
		"tenant": tenant,
	})
}
