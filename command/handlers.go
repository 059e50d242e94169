// Package command exposes tenant lifecycle operations as go-command
// commanders.
package command

import (
	"context"

	"github.com/goliatone/go-botfactory/composer"
	"github.com/goliatone/go-botfactory/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	Compose(ctx context.Context, descriptor core.TenantDescriptor, seed *core.BotSecret) (*composer.Graph, error)
	Teardown(ctx context.Context, tenant string) error
	PublishCommands(ctx context.Context, tenant string) error
	PutSecret(ctx context.Context, tenant string, secret core.BotSecret) error
}

// ComposeResult is stored in the context result collector after a compose.
type ComposeResult struct {
	Tenant    string
	Naming    core.NamingRecord
	Resources []string
}

type ComposeCommand struct {
	service MutatingService
}

func NewComposeCommand(service MutatingService) *ComposeCommand {
	return &ComposeCommand{service: service}
}

func (c *ComposeCommand) Execute(ctx context.Context, msg ComposeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: compose service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	graph, err := c.service.Compose(ctx, msg.Descriptor, msg.Seed)
	if err != nil {
		return err
	}
	storeResult(ctx, ComposeResult{
		Tenant:    graph.Descriptor.Name,
		Naming:    graph.Naming,
		Resources: append([]string(nil), graph.Resources...),
	})
	return nil
}

type TeardownCommand struct {
	service MutatingService
}

func NewTeardownCommand(service MutatingService) *TeardownCommand {
	return &TeardownCommand{service: service}
}

func (c *TeardownCommand) Execute(ctx context.Context, msg TeardownMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: teardown service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.Teardown(ctx, msg.Tenant)
}

type PublishCommandsCommand struct {
	service MutatingService
}

func NewPublishCommandsCommand(service MutatingService) *PublishCommandsCommand {
	return &PublishCommandsCommand{service: service}
}

func (c *PublishCommandsCommand) Execute(ctx context.Context, msg PublishCommandsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: publish service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.PublishCommands(ctx, msg.Tenant)
}

type PutSecretCommand struct {
	service MutatingService
}

func NewPutSecretCommand(service MutatingService) *PutSecretCommand {
	return &PutSecretCommand{service: service}
}

func (c *PutSecretCommand) Execute(ctx context.Context, msg PutSecretMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: secret service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.PutSecret(ctx, msg.Tenant, msg.Secret)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
