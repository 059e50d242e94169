package inbound

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-botfactory/core"
)

func inboundError(
	message string,
	category goerrors.Category,
	textCode string,
	metadata map[string]any,
) error {
	return core.NewError(message, category, textCode, metadata)
}

func inboundWrapError(
	source error,
	category goerrors.Category,
	message string,
	textCode string,
	metadata map[string]any,
) error {
	return core.WrapError(source, category, message, textCode, metadata)
}

func unknownTenant(tenant string) error {
	return inboundError(
		"inbound: no gate is mounted for tenant",
		goerrors.CategoryNotFound,
		core.ErrorTenantNotFound,
		map[string]any{"tenant": tenant},
	)
}

func unreadableBody(source error, tenant string) error {
	return inboundWrapError(
		source,
		goerrors.CategoryBadInput,
		"inbound: read request body",
		core.ErrorBadRequest,
		map[string]any{"tenant": tenant},
	)
}
