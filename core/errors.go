package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInvalidPayload    = "BILLING_INVALID_PAYLOAD"
	ErrorSignatureMismatch = "BILLING_SIGNATURE_MISMATCH"
	ErrorProcessingFailed  = "BILLING_PROCESSING_FAILED"
	ErrorProcessingTimeout = "BILLING_PROCESSING_TIMEOUT"
	ErrorQueueFull         = "BILLING_QUEUE_FULL"
	ErrorStoreConflict     = "BILLING_STORE_CONFLICT"
	ErrorRecordNotFound    = "BILLING_RECORD_NOT_FOUND"
	ErrorInternal          = "BILLING_INTERNAL_ERROR"
)

func newError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	// Wrap keeps the category of a rich source.
	err.Category = category
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// InvalidPayload reports a malformed envelope or a projection that does not
// match the event. It is never retried.
func InvalidPayload(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorInvalidPayload, metadata)
}

func WrapInvalidPayload(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryBadInput, message, http.StatusBadRequest, ErrorInvalidPayload, metadata)
}

func SignatureMismatch(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorSignatureMismatch, metadata)
}

func WrapSignatureMismatch(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryAuth, message, http.StatusUnauthorized, ErrorSignatureMismatch, metadata)
}

func ProcessingFailed(source error, metadata map[string]any) error {
	return wrapError(
		source,
		goerrors.CategoryOperation,
		"billing: event handler failed",
		http.StatusBadGateway,
		ErrorProcessingFailed,
		metadata,
	)
}

func ProcessingTimeout(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryOperation, http.StatusGatewayTimeout, ErrorProcessingTimeout, metadata)
}

func QueueFull(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryRateLimit, http.StatusServiceUnavailable, ErrorQueueFull, metadata)
}

// WrapQueueFull keeps source reachable through errors.Is, for example the
// context error that ended a wait for queue room.
func WrapQueueFull(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryRateLimit, message, http.StatusServiceUnavailable, ErrorQueueFull, metadata)
}

func StoreConflict(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryConflict, http.StatusConflict, ErrorStoreConflict, metadata)
}

func RecordNotFound(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryNotFound, http.StatusNotFound, ErrorRecordNotFound, metadata)
}

func BadInput(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorInvalidPayload, metadata)
}

func Internal(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorInternal, metadata)
}

func WrapInternal(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, ErrorInternal, metadata)
}

func IsInvalidPayload(err error) bool {
	return TextCode(err) == ErrorInvalidPayload
}

func IsSignatureMismatch(err error) bool {
	return TextCode(err) == ErrorSignatureMismatch
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return TextCode(err) == ErrorProcessingTimeout
}

func IsQueueFull(err error) bool {
	return TextCode(err) == ErrorQueueFull
}

func IsStoreConflict(err error) bool {
	return TextCode(err) == ErrorStoreConflict
}

// Retryable reports whether a processing error should consume another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsInvalidPayload(err)
}

// TextCode returns the text code of the outermost rich error in the chain.
func TextCode(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if code := strings.TrimSpace(rich.TextCode); code != "" {
			return code
		}
		return defaultTextCode(rich.Category)
	}
	return ""
}

// HTTPStatus maps an error to the status the boundary should answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Code > 0 {
			return rich.Code
		}
		return statusForCategory(rich.Category)
	}
	return http.StatusInternalServerError
}

// MapError normalizes any error into the rich envelope used on the wire.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureEnvelope(rich)
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureEnvelope(mapped)
}

func ensureEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = statusForCategory(err.Category)
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
		return ErrorInvalidPayload
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorSignatureMismatch
	case goerrors.CategoryConflict:
		return ErrorStoreConflict
	case goerrors.CategoryNotFound:
		return ErrorRecordNotFound
	case goerrors.CategoryRateLimit:
		return ErrorQueueFull
	case goerrors.CategoryOperation:
		return ErrorProcessingFailed
	default:
		return ErrorInternal
	}
}

func statusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Reason renders an error for storage in a failed idempotency record.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	code := TextCode(err)
	message := strings.TrimSpace(err.Error())
	if code == "" {
		return message
	}
	return fmt.Sprintf("%s: %s", code, message)
}
