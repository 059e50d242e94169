package core

import (
	stderrors "errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInvalidTenantName = "BOT_INVALID_TENANT_NAME"
	ErrorPluginResolution  = "BOT_PLUGIN_RESOLUTION"
	ErrorUnauthorized      = "BOT_UNAUTHORIZED"
	ErrorBadRequest        = "BOT_BAD_REQUEST"
	ErrorInternal          = "BOT_INTERNAL"
	ErrorDeliveryExpired   = "BOT_DELIVERY_EXPIRED"
	ErrorTenantExists      = "BOT_TENANT_EXISTS"
	ErrorTenantNotFound    = "BOT_TENANT_NOT_FOUND"
	ErrorAccessDenied      = "BOT_ACCESS_DENIED"
	ErrorPolicyViolation   = "BOT_POLICY_VIOLATION"
	ErrorCommandPublish    = "BOT_COMMAND_PUBLISH"
)

// NewError builds a go-errors envelope with a stable text code.
func NewError(
	message string,
	category goerrors.Category,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(httpStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// WrapError attaches source to a new envelope. The category of an existing
// go-errors source is kept by goerrors.Wrap, the text code is replaced.
func WrapError(
	source error,
	category goerrors.Category,
	message string,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return NewError(message, category, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message)
	err = err.WithCode(httpStatus(err.Category)).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func InvalidTenantNameError(name string, reason string) error {
	return NewError(
		"core: invalid tenant name: "+reason,
		goerrors.CategoryValidation,
		ErrorInvalidTenantName,
		map[string]any{"tenant": name, "reason": reason},
	)
}

func PluginResolutionError(plugin string, tenant string) error {
	return NewError(
		"core: processing plugin "+quote(plugin)+" is not registered",
		goerrors.CategoryNotFound,
		ErrorPluginResolution,
		map[string]any{"plugin": plugin, "tenant": tenant},
	)
}

func DeliveryExpiredError(tenant string, messageID string, attempts int) error {
	return NewError(
		"core: delivery expired after max attempts",
		goerrors.CategoryOperation,
		ErrorDeliveryExpired,
		map[string]any{"tenant": tenant, "message_id": messageID, "attempts": attempts},
	)
}

func TenantNotFoundError(tenant string) error {
	return NewError(
		"core: tenant "+quote(tenant)+" not found",
		goerrors.CategoryNotFound,
		ErrorTenantNotFound,
		map[string]any{"tenant": tenant},
	)
}

func AccessDeniedError(message string, metadata map[string]any) error {
	return NewError(message, goerrors.CategoryAuthz, ErrorAccessDenied, metadata)
}

func PolicyViolationError(message string, metadata map[string]any) error {
	return NewError(message, goerrors.CategoryAuthz, ErrorPolicyViolation, metadata)
}

func BadInputError(message string, metadata map[string]any) error {
	return NewError(message, goerrors.CategoryBadInput, ErrorBadRequest, metadata)
}

func InternalError(message string, metadata map[string]any) error {
	return NewError(message, goerrors.CategoryInternal, ErrorInternal, metadata)
}

func IsInvalidTenantName(err error) bool { return HasTextCode(err, ErrorInvalidTenantName) }

func IsPluginResolution(err error) bool { return HasTextCode(err, ErrorPluginResolution) }

func IsDeliveryExpired(err error) bool { return HasTextCode(err, ErrorDeliveryExpired) }

func IsTenantNotFound(err error) bool { return HasTextCode(err, ErrorTenantNotFound) }

func IsAccessDenied(err error) bool { return HasTextCode(err, ErrorAccessDenied) }

// HasTextCode walks the chain looking for a go-errors envelope with textCode.
func HasTextCode(err error, textCode string) bool {
	for err != nil {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) || rich == nil {
			return false
		}
		if rich.TextCode == textCode {
			return true
		}
		err = stderrors.Unwrap(rich)
	}
	return false
}

// MapError normalizes any error into a go-errors envelope with an HTTP code
// and a text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureEnvelope(rich)
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not registered"):
		return NewError(err.Error(), goerrors.CategoryNotFound, ErrorPluginResolution, nil)
	case strings.Contains(msg, "not found"):
		return NewError(err.Error(), goerrors.CategoryNotFound, ErrorTenantNotFound, nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorBadRequest, nil)
	}
	return ensureEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func ensureEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadRequest
	case goerrors.CategoryNotFound:
		return ErrorTenantNotFound
	case goerrors.CategoryAuth:
		return ErrorUnauthorized
	case goerrors.CategoryAuthz:
		return ErrorAccessDenied
	case goerrors.CategoryConflict:
		return ErrorTenantExists
	case goerrors.CategoryExternal:
		return ErrorCommandPublish
	default:
		return ErrorInternal
	}
}

func httpStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func quote(value string) string {
	return "\"" + value + "\""
}
