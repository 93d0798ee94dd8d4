package usecase

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"chatbridge/internal/integrations/webhook"
	"chatbridge/internal/storage"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorWebhook      ErrorCode = "WEBHOOK_ERROR"
	ErrorStorage      ErrorCode = "STORAGE_ERROR"
	ErrorAborted      ErrorCode = "ABORTED"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// HTTPStatus maps err to a response status and error code. Errors that are
// not *Error surfaced while relaying a reply: storage failures from the final
// save, anything else from reading the webhook body.
func HTTPStatus(err error) (int, ErrorCode) {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		switch ucErr.Code {
		case ErrorInvalidInput:
			return http.StatusBadRequest, ucErr.Code
		case ErrorNotFound:
			return http.StatusNotFound, ucErr.Code
		case ErrorWebhook:
			return http.StatusBadGateway, ucErr.Code
		case ErrorAborted:
			return http.StatusServiceUnavailable, ucErr.Code
		default:
			return http.StatusInternalServerError, ucErr.Code
		}
	}
	var storageErr *storage.Error
	if errors.As(err, &storageErr) {
		return http.StatusInternalServerError, ErrorStorage
	}
	return http.StatusBadGateway, ErrorWebhook
}

// UserMessage is the text shown in place of the assistant reply. It never
// carries the webhook URL.
func UserMessage(err error) string {
	var storageErr *storage.Error
	if errors.As(err, &storageErr) {
		return storageErr.Message
	}
	var hookErr *webhook.Error
	if errors.As(err, &hookErr) {
		return hookErr.Error()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "Webhook error: " + urlErr.Err.Error()
	}
	var ucErr *Error
	if errors.As(err, &ucErr) {
		if ucErr.Err == nil {
			return string(ucErr.Code)
		}
		return ucErr.Err.Error()
	}
	return err.Error()
}
