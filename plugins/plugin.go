// Package plugins resolves a tenant's processing plugin to a Processor. Every
// plugin is a named factory registered up front; composition asks the
// registry for the tenant's plugin before it creates any resource.
package plugins

import (
	"context"
	"time"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/credentials"
	"github.com/goliatone/go-botfactory/discord"
	"github.com/goliatone/go-botfactory/naming"
)

const (
	EnvSecretName = "SECRET_NAME"
	EnvQueueURL   = "QUEUE_URL"
)

// Messenger is the Discord surface a processor replies through.
type Messenger interface {
	SendMessage(ctx context.Context, channelID string, content string) error
	GetUser(ctx context.Context, userID string) (discord.User, error)
}

// MessengerFactory builds a Messenger authenticated with the bot token.
type MessengerFactory func(token string) Messenger

func DefaultMessengerFactory(opts ...discord.Option) MessengerFactory {
	return func(token string) Messenger {
		return discord.NewClient(token, opts...)
	}
}

// Declaration is what a plugin needs from composition: extra resources wired
// with the processor's policy, the commands the command job publishes and
// default values for plugin env keys.
type Declaration struct {
	Name      string
	Resources []core.ResourceSpec
	Commands  []core.CommandDefinition
	Env       map[string]string
}

// Deps are the per-tenant runtime values a processor is built with.
type Deps struct {
	Tenant     string
	Naming     core.NamingRecord
	Credential core.CredentialHandle
	Secrets    credentials.Resolver
	Env        map[string]string
	Messenger  MessengerFactory
	Observer   *core.Observer
	Now        func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Factory builds the processor of one plugin.
type Factory interface {
	Declaration() Declaration
	New(ctx context.Context, deps Deps) (core.Processor, error)
}

// Provisioner is implemented by factories whose extra resources hold tenant
// data that must be created before the processor runs and removed on
// teardown.
type Provisioner interface {
	Provision(ctx context.Context, tenant string, resource core.ResourceSpec) error
	Deprovision(ctx context.Context, tenant string, resource core.ResourceSpec) error
}

// ProcessorEnv builds the isolated env of a processor: its secret reference,
// queue url, one entry per declared resource and the plugin defaults
// overridden by tenant settings.
func ProcessorEnv(decl Declaration, record core.NamingRecord, queueURL string, settings map[string]string) map[string]string {
	env := map[string]string{}
	for key, value := range decl.Env {
		env[key] = value
	}
	for _, resource := range decl.Resources {
		if resource.EnvKey != "" {
			env[resource.EnvKey] = resource.ResourceID(record.Tenant)
		}
	}
	for key, value := range settings {
		if _, declared := env[key]; declared {
			env[key] = value
		}
	}
	env[EnvSecretName] = record.SecretID
	env[EnvQueueURL] = queueURL
	return env
}

// Compute describes the processor compute unit for a tenant.
func Compute(record core.NamingRecord, env map[string]string) core.ComputeHandle {
	return core.ComputeHandle{
		ID:      record.ProcessorID,
		Role:    core.RoleProcessor,
		RoleID:  record.ProcessorRoleID,
		Handler: naming.SnakeCase(record.Tenant),
		Env:     core.CloneEnv(env),
	}
}
