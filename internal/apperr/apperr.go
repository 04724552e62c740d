// Package apperr defines the error kinds surfaced to callers of the service layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindConflict    Kind = "conflict"
	KindExternal    Kind = "external"
	KindRateLimited Kind = "rate_limited" // external, with a retry-after time
	KindTimeout     Kind = "timeout"
	KindNotFound    Kind = "not_found"
	KindInternal    Kind = "internal"
)

// Machine readable reasons attached to errors.
const (
	ReasonContentTooLong      = "content_too_long"
	ReasonInvalidThread       = "invalid_thread"
	ReasonInvalidSchedule     = "invalid_schedule"
	ReasonUnsupportedPlatform = "unsupported_platform"
	ReasonMediaTooLarge       = "media_too_large"
	ReasonMediaTooLong        = "media_too_long"
	ReasonBadFormat           = "bad_format"
	ReasonNoAccount           = "no_account"
	ReasonThreadPublished     = "thread_published"
	ReasonQueueFull           = "queue_full"
	ReasonExtractionFailed    = "extraction_failed"
	ReasonExtractionTimeout   = "extraction_timeout"
	ReasonPermissionDenied    = "permission_denied"
	ReasonPayloadTooLarge     = "payload_too_large"
	ReasonRateLimited         = "rate_limited"
	ReasonUpstream            = "upstream_error"
)

type Error struct {
	Kind       Kind
	Reason     string
	Message    string
	RetryAfter time.Time
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func Validation(reason, msg string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: msg}
}

func Auth(msg string) *Error {
	return &Error{Kind: KindAuth, Reason: ReasonNoAccount, Message: msg}
}

func Conflict(reason, msg string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: msg}
}

func External(reason, msg string) *Error {
	return &Error{Kind: KindExternal, Reason: reason, Message: msg}
}

func RateLimited(msg string, retryAfter time.Time) *Error {
	return &Error{Kind: KindRateLimited, Reason: ReasonRateLimited, Message: msg, RetryAfter: retryAfter}
}

func Timeout(reason, msg string) *Error {
	return &Error{Kind: KindTimeout, Reason: reason, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Reason: "not_found", Message: msg}
}

func as(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := as(err); ok {
		return e.Kind
	}
	return KindInternal
}

func ReasonOf(err error) string {
	if e, ok := as(err); ok {
		return e.Reason
	}
	return ""
}

// Is reports whether err carries the given reason.
func Is(err error, reason string) bool {
	return err != nil && ReasonOf(err) == reason
}

func RetryAfter(err error) (time.Time, bool) {
	if e, ok := as(err); ok && e.Kind == KindRateLimited && !e.RetryAfter.IsZero() {
		return e.RetryAfter, true
	}
	return time.Time{}, false
}

// Message returns the caller-facing message, hiding internal details.
func Message(err error) string {
	if e, ok := as(err); ok {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindExternal:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
