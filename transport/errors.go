package transport

import (
	"fmt"

	"github.com/goliatone/go-botfactory/core"
	goerrors "github.com/goliatone/go-errors"
)

// transportWrapError builds the go-errors envelope for a failed call. The
// HTTP code travels as the envelope code; source may be nil.
func transportWrapError(source error, category goerrors.Category, message string, code int, metadata map[string]any) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	err = err.WithCode(code).WithTextCode(textCodeFor(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportError(message string, category goerrors.Category, code int, metadata map[string]any) error {
	return transportWrapError(nil, category, message, code, metadata)
}

// StatusError reports a non 2xx answer from a platform API.
func StatusError(operation string, res Response) error {
	return transportError(
		fmt.Sprintf("transport: %s returned status %d", operation, res.StatusCode),
		goerrors.CategoryExternal,
		res.StatusCode,
		map[string]any{"operation": operation, "status_code": res.StatusCode, "attempts": res.Attempts},
	)
}

func textCodeFor(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadRequest
	case goerrors.CategoryAuth:
		return core.ErrorUnauthorized
	case goerrors.CategoryAuthz:
		return core.ErrorAccessDenied
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return core.ErrorCommandPublish
	default:
		return core.ErrorInternal
	}
}
