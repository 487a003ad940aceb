// Package apierr implements the error taxonomy from the error handling
// design: a small set of named kinds, each carrying a fixed HTTP status.
package apierr

import "net/http"

// Kind is one of the taxonomy's named error categories.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindUnauthorized    Kind = "unauthorized"
	KindInvalidToken    Kind = "invalid_token"
	KindInvalidAPIKey   Kind = "invalid_api_key"
	KindJobNotFound     Kind = "job_not_found"
	KindWorkerNotFound  Kind = "worker_not_found"
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state"
	KindStorageError    Kind = "storage_error"
	KindStorageUpload   Kind = "storage_upload_failed"
	KindDatabaseError   Kind = "database_error"
	KindAuthError       Kind = "auth_error"
	KindNoSourceURL     Kind = "no_source_url"
	KindRateLimited     Kind = "rate_limited"
	KindStreamNotFound  Kind = "stream_not_found"
)

var statusByKind = map[Kind]int{
	KindValidation:     http.StatusBadRequest,
	KindUnauthorized:   http.StatusUnauthorized,
	KindInvalidToken:   http.StatusUnauthorized,
	KindInvalidAPIKey:  http.StatusUnauthorized,
	KindJobNotFound:    http.StatusNotFound,
	KindWorkerNotFound: http.StatusNotFound,
	KindNotFound:       http.StatusNotFound,
	KindInvalidState:   http.StatusBadRequest,
	KindStorageError:   http.StatusInternalServerError,
	KindStorageUpload:  http.StatusBadGateway,
	KindDatabaseError:  http.StatusInternalServerError,
	KindAuthError:      http.StatusInternalServerError,
	KindNoSourceURL:    http.StatusBadRequest,
	KindRateLimited:    http.StatusTooManyRequests,
	KindStreamNotFound: http.StatusNotFound,
}

// Error is a typed API-facing error: a kind, an HTTP status derived from
// it, and a human-readable message.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Kind: kind, Status: status, Message: message}
}

// Wrap builds an Error of the given kind around an underlying cause,
// using the cause's message unless an override is given.
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	if e.Message == "" && cause != nil {
		e.Message = cause.Error()
	}
	e.cause = cause
	return e
}

// As extracts an *Error from err, returning (nil, false) if err is not
// (or does not wrap) an *Error.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}
