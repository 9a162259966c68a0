package docrepo

import (
	"context"
	stderrors "errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-docrepo/entity"
)

var (
	// ErrInvalidConfig is the root of repository configuration errors.
	ErrInvalidConfig = stderrors.New("invalid repository configuration")
	// ErrInvalidArgument is returned for empty ids and nil entities.
	ErrInvalidArgument = stderrors.New("invalid argument")
)

func invalidConfig(msg string, verr error) error {
	err := goerrors.Wrap(ErrInvalidConfig, goerrors.CategoryBadInput, msg).
		WithTextCode("INVALID_REPOSITORY_CONFIG")
	if verr != nil {
		if fe := goerrors.FromOzzoValidation(verr, msg); fe != nil {
			err.ValidationErrors = fe.ValidationErrors
		}
	}
	return err
}

func invalidArgument(format string, args ...any) error {
	return goerrors.Wrap(ErrInvalidArgument, goerrors.CategoryBadInput, fmt.Sprintf(format, args...)).
		WithTextCode("INVALID_ARGUMENT")
}

func nilEntity[T any]() error {
	return goerrors.Wrap(entity.ErrInvalidEntity, goerrors.CategoryBadInput, fmt.Sprintf("%T entity must not be nil", *new(T))).
		WithTextCode("INVALID_ENTITY_TYPE")
}

// storeFailure wraps an error returned by the store client. Cancellation and
// errors that already carry a category pass through unchanged.
func storeFailure(err error, operation, resource string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var categorized *goerrors.Error
	if stderrors.As(err, &categorized) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, operation+" failed").
		WithTextCode("STORE_ERROR").
		WithMetadata(map[string]any{
			"operation": operation,
			"resource":  resource,
		})
}

func decodeFailure(err error, resource string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "cannot decode document").
		WithTextCode("DOCUMENT_DECODE").
		WithMetadata(map[string]any{"resource": resource})
}
