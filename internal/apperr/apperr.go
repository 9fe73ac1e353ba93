// Package apperr carries the error codes shared by the service packages.
//
// Codes follow the "<operation>.<reason>" shape, for example
// "chat.send_message.not_member". Every error also carries a Kind so the
// transport layer can pick a status without knowing individual codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a ServiceError.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
	ErrInternal     = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindValidation:   ErrValidation,
	KindUnauthorized: ErrUnauthorized,
	KindForbidden:    ErrForbidden,
	KindNotFound:     ErrNotFound,
	KindConflict:     ErrConflict,
	KindUnavailable:  ErrUnavailable,
	KindInternal:     ErrInternal,
}

// ServiceError is returned by every service operation.
type ServiceError struct {
	code  string
	kind  Kind
	field string
	err   error
}

// New builds a ServiceError with the code "<operation>.<reason>".
func New(operation, reason string, kind Kind, cause error) error {
	return &ServiceError{
		code: fmt.Sprintf("%s.%s", operation, reason),
		kind: kind,
		err:  cause,
	}
}

// Invalid builds a validation error that names the offending input field.
func Invalid(operation, field string, cause error) error {
	return &ServiceError{
		code:  fmt.Sprintf("%s.invalid_%s", operation, field),
		kind:  KindValidation,
		field: field,
		err:   cause,
	}
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Is lets errors.Is match the Kind sentinels.
func (e *ServiceError) Is(target error) bool {
	sentinel, ok := sentinels[e.kind]
	return ok && sentinel == target
}

func (e *ServiceError) Code() string {
	return e.code
}

func (e *ServiceError) Kind() Kind {
	return e.kind
}

func (e *ServiceError) Field() string {
	return e.field
}

// KindOf reports the Kind of err, or KindInternal when err is not a ServiceError.
func KindOf(err error) Kind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	return KindInternal
}

// CodeOf reports the code of err, or an empty string when err is not a ServiceError.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.code
	}
	return ""
}
