package domain

import (
	"errors"
	"fmt"
)

var (
	// Base errors
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("resource not found")
	ErrConflict      = errors.New("conflict")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrTransient     = errors.New("transient failure")
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrConcurrentWrite is raised by the store when a write collided with
	// another writer. It is the only error the retry wrapper retries.
	ErrConcurrentWrite = errors.New("concurrent write detected")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports an unknown identifier.
type NotFoundError struct {
	Kind string
	ID   string
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError reports a role invariant violation. HolderID names the
// playlist that currently holds Role, when there is one.
type ConflictError struct {
	Message  string
	Role     Role
	HolderID string
}

func (e *ConflictError) Error() string {
	if e.HolderID != "" {
		return fmt.Sprintf("conflict: %s (%s role held by playlist %s)", e.Message, e.Role, e.HolderID)
	}
	return fmt.Sprintf("conflict: %s", e.Message)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type QuotaExceededError struct {
	Username  string
	Type      QuotaType
	Remaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (%s quota, %d remaining)", e.Username, e.Type, e.Remaining)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// TransientError is returned once the retry budget of a write is spent.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError wraps err with its stable code so callers outside the
// engine can serialize it.
func NewDomainError(err error) *DomainError {
	return &DomainError{
		Code:    Code(err),
		Message: err.Error(),
		Details: details(err),
		Err:     err,
	}
}

// Error codes for consistent error handling
const (
	ErrCodeValidation    = "VALIDATION"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeQuotaExceeded = "QUOTA_EXCEEDED"
	ErrCodeTransient     = "TRANSIENT"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeInternal      = "INTERNAL"
)

// Code maps err onto one of the ErrCode constants.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return ErrCodeValidation
	case IsNotFound(err):
		return ErrCodeNotFound
	case IsConflict(err):
		return ErrCodeConflict
	case IsQuotaExceeded(err):
		return ErrCodeQuotaExceeded
	case IsTransient(err), IsConcurrentWrite(err):
		return ErrCodeTransient
	case IsAlreadyExists(err):
		return ErrCodeAlreadyExists
	default:
		return ErrCodeInternal
	}
}

func details(err error) string {
	var conflict *ConflictError
	if errors.As(err, &conflict) && conflict.HolderID != "" {
		return fmt.Sprintf("%s=%s", conflict.Role, conflict.HolderID)
	}
	var quota *QuotaExceededError
	if errors.As(err, &quota) {
		return fmt.Sprintf("remaining=%d", quota.Remaining)
	}
	return ""
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsConcurrentWrite(err error) bool {
	return errors.Is(err, ErrConcurrentWrite)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
