// Package apperr defines the error-kind taxonomy shared by every layer of
// the service and the HTTP status each kind maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds a job or request can fail with.
type Kind string

const (
	KindBadRequest        Kind = "bad_request"
	KindFetchFailed        Kind = "fetch_failed"
	KindEncoderUnavailable Kind = "encoder_unavailable"
	KindTranscodeFailed    Kind = "transcode_failed"
	KindIOError            Kind = "io_error"
	KindNotReady           Kind = "not_ready"
	KindNotFound           Kind = "not_found"
	KindCancelled          Kind = "cancelled"
)

var statusByKind = map[Kind]int{
	KindBadRequest:         http.StatusBadRequest,
	KindFetchFailed:        http.StatusBadGateway,
	KindEncoderUnavailable: http.StatusServiceUnavailable,
	KindTranscodeFailed:    http.StatusInternalServerError,
	KindIOError:            http.StatusInternalServerError,
	KindNotReady:           http.StatusNotFound,
	KindNotFound:           http.StatusNotFound,
	KindCancelled:          http.StatusGone,
}

// wireToken maps each Kind to the CamelCase token client-facing payloads
// use; the Kind constants themselves stay snake_case since they also
// double as internal log field values.
var wireToken = map[Kind]string{
	KindBadRequest:         "BadRequest",
	KindFetchFailed:        "FetchFailed",
	KindEncoderUnavailable: "EncoderUnavailable",
	KindTranscodeFailed:    "TranscodeFailed",
	KindIOError:            "IOError",
	KindNotReady:           "NotReady",
	KindNotFound:           "NotFound",
	KindCancelled:          "Cancelled",
}

// WireToken returns the CamelCase token for kind that client-facing
// payloads (e.g. a job snapshot's error field) render, falling back to
// kind itself for any kind not in the table.
func WireToken(kind Kind) string {
	if token, ok := wireToken[kind]; ok {
		return token
	}
	return string(kind)
}

// Error is the typed error every component returns when a failure maps to
// one of the kinds a caller (or the HTTP transport) needs to branch on.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code this error's kind maps to.
func (e *Error) Status() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// StatusOf returns the HTTP status for err, defaulting to 500 when err is
// not (or does not wrap) an *Error.
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status()
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from err, if any.
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

// MessageOf returns the client-facing message for err: just Message for an
// *Error, with no kind prefix (unlike Error(), whose kind prefix is for
// logs), and err.Error() for anything else.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
