// Package apperr carries the stable error codes exposed by the API.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable, client-facing error code.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindDuplicateEmail     Kind = "duplicate_email"
	KindOutOfStock         Kind = "out_of_stock"
	KindImmutable          Kind = "immutable"
	KindInvalidState       Kind = "invalid_state"
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindUnauthorized       Kind = "unauthorized"
	KindIntegration        Kind = "integration_error"
	KindAdvisorUnavailable Kind = "advisor_unavailable"
	KindTransientStorage   Kind = "transient_storage"
	KindInternal           Kind = "internal"
)

// FieldError is a field-level validation detail.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is a typed application error.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Fields    []FieldError
	Provider  string
	Retriable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Code
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind and, when set, code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New returns a sentinel error of the given kind. Code is the
// machine name used in logs and validation payloads.
func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code, Message: strings.ReplaceAll(code, "_", " ")}
}

// Wrap attaches kind to cause.
func Wrap(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: strings.ReplaceAll(code, "_", " "), Err: cause}
}

// Validation builds a validation error with field details.
func Validation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Code: "validation_error", Message: "validation error", Fields: fields}
}

// Field is shorthand for a single-field validation error. The error code is
// the field code so the result works as a sentinel.
func Field(field, code, message string) *Error {
	e := Validation(FieldError{Field: field, Code: code, Message: message})
	e.Code = code
	e.Message = message
	return e
}

// Integration reports a remote provider failure.
func Integration(provider string, retriable bool, cause error) *Error {
	return &Error{
		Kind:      KindIntegration,
		Code:      "integration_error",
		Message:   fmt.Sprintf("provider %s request failed", provider),
		Provider:  provider,
		Retriable: retriable,
		Err:       cause,
	}
}

// Transient marks database contention that survived a retry.
func Transient(cause error) *Error {
	return &Error{Kind: KindTransientStorage, Code: "transient_storage", Message: "storage contention, retry later", Retriable: true, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// Kindf is a kind-only matcher for errors.Is.
func Kindf(kind Kind) *Error {
	return &Error{Kind: kind}
}
