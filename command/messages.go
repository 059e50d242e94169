package command

import (
	"strings"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/naming"
)

const (
	TypeCompose         = "botfactory.command.tenant.compose"
	TypeTeardown        = "botfactory.command.tenant.teardown"
	TypePublishCommands = "botfactory.command.tenant.publish_commands"
	TypePutSecret       = "botfactory.command.tenant.put_secret"
)

type ComposeMessage struct {
	Descriptor core.TenantDescriptor
	// Seed is stored as the tenant secret. Nil keeps an existing secret.
	Seed *core.BotSecret
}

func (ComposeMessage) Type() string { return TypeCompose }

func (m ComposeMessage) Validate() error {
	if err := validateTenant(m.Descriptor.Name); err != nil {
		return err
	}
	if strings.TrimSpace(m.Descriptor.Plugin) == "" {
		return commandValidationError("plugin", "plugin is required")
	}
	return nil
}

type TeardownMessage struct {
	Tenant string
}

func (TeardownMessage) Type() string { return TypeTeardown }

func (m TeardownMessage) Validate() error {
	return validateTenant(m.Tenant)
}

type PublishCommandsMessage struct {
	Tenant string
}

func (PublishCommandsMessage) Type() string { return TypePublishCommands }

func (m PublishCommandsMessage) Validate() error {
	return validateTenant(m.Tenant)
}

// PutSecretMessage replaces the secret of a composed tenant.
type PutSecretMessage struct {
	Tenant string
	Secret core.BotSecret
}

func (PutSecretMessage) Type() string { return TypePutSecret }

func (m PutSecretMessage) Validate() error {
	if err := validateTenant(m.Tenant); err != nil {
		return err
	}
	if err := m.Secret.Validate(); err != nil {
		return commandValidationError("secret", err.Error())
	}
	return nil
}

func validateTenant(name string) error {
	if strings.TrimSpace(name) == "" {
		return commandValidationError("tenant", "tenant is required")
	}
	return commandWrapValidation(naming.Validate(name), "command: invalid tenant name")
}
