// Package apperr defines the two user-facing failure kinds of the service.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure surfaced to the user.
type Kind string

const (
	// KindDatasetLoad means the CSV file could not be read or parsed.
	KindDatasetLoad Kind = "dataset_load"
	// KindCompletion means the remote chat completion failed.
	KindCompletion Kind = "completion"
)

// Error carries a Kind plus a human-readable detail of the underlying cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage renders the inline message shown in the page.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindDatasetLoad:
		return "No se pudo cargar el dataset: " + e.Detail
	case KindCompletion:
		return "❌ Error al consultar la API: " + e.Detail
	default:
		return e.Detail
	}
}

// DatasetLoad wraps err as a dataset load failure.
func DatasetLoad(err error) *Error {
	return wrap(KindDatasetLoad, err)
}

// Completion wraps err as a completion failure.
func Completion(err error) *Error {
	return wrap(KindCompletion, err)
}

func wrap(kind Kind, err error) *Error {
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return existing
	}
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf reports the Kind of err when it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

// UserMessage returns the page message for err, falling back to err.Error().
func UserMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.UserMessage()
	}
	return err.Error()
}
