// Package apperr defines the error taxonomy shared by the workflow layers.
// Handlers translate these into HTTP responses with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidStatusKind = errors.New("invalid status kind")
	ErrConflict          = errors.New("conflicting concurrent update")
	ErrValidation        = errors.New("validation failed")
)

// AccessDeniedError carries the human-readable reason an actor was refused.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string { return e.Reason }

// Is makes errors.Is(err, ErrUnauthorized) hold.
func (e *AccessDeniedError) Is(target error) bool { return target == ErrUnauthorized }

// Denied returns an AccessDeniedError with the given reason.
func Denied(reason string) error {
	return &AccessDeniedError{Reason: reason}
}

// ValidationError maps field names to messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a single-field ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// NotFound wraps ErrNotFound with the missing entity's description.
func NotFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}
