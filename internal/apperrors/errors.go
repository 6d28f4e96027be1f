// Package apperrors defines the error taxonomy shared by the HTTP layer and
// the services: validation, authorization, upstream (agent/tool), persistence
// and cache failures. Handlers map these to status codes; everything else is
// treated as an internal error.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindUpstream
	KindPersistence
	KindCache
)

// Error carries a kind alongside the message so transport code can pick a
// status without string matching.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

// HTTPStatus maps the kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string) error { return &Error{kind: KindValidation, msg: msg} }

func Unauthorized(msg string) error { return &Error{kind: KindUnauthorized, msg: msg} }

func Forbidden(msg string) error { return &Error{kind: KindForbidden, msg: msg} }

func NotFound(msg string) error { return &Error{kind: KindNotFound, msg: msg} }

func Conflict(msg string) error { return &Error{kind: KindConflict, msg: msg} }

func Upstream(msg string, err error) error { return &Error{kind: KindUpstream, msg: msg, err: err} }

func Persistence(msg string, err error) error {
	return &Error{kind: KindPersistence, msg: msg, err: err}
}

// IsKind reports whether err (or anything it wraps) is an *Error of the given
// kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind == kind
	}
	return false
}

// StatusFor returns the HTTP status for err, defaulting to 500.
func StatusFor(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.HTTPStatus()
	}
	return http.StatusInternalServerError
}
