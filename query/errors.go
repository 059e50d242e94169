package query

import (
	"net/http"

	"github.com/goliatone/go-botfactory/core"
	goerrors "github.com/goliatone/go-errors"
)

func queryDependencyError(message string) error {
	return core.NewError(message, goerrors.CategoryInternal, core.ErrorInternal, nil)
}

func queryValidationError(field string, message string) error {
	return goerrors.NewValidation("query: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadRequest).
		WithSeverity(goerrors.SeverityError)
}
