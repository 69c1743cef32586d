package core

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound             = errors.New("document not found")
	ErrAlreadyRegistered    = errors.New("a registration already exists for this account")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrTransitionNotAllowed = errors.New("operation not allowed in the current state")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// ConfigError reports missing or inconsistent backend configuration.
type ConfigError struct {
	Key    string
	Reason string
}

func NewConfigError(key, reason string) error {
	return &ConfigError{Key: key, Reason: reason}
}

func (err ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", err.Key, err.Reason)
}

// AuthError reports a failed sign-in attempt.
type AuthError struct {
	Err error
}

func NewAuthError(err error) error {
	return &AuthError{Err: err}
}

func (err AuthError) Error() string {
	if err.Err == nil {
		return "authentication failed"
	}
	return "authentication failed: " + err.Err.Error()
}

func (err AuthError) Unwrap() error { return err.Err }

// StoreError wraps any failure returned by the document store.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func NewStoreError(op, path string, err error) error {
	return &StoreError{Op: op, Path: path, Err: err}
}

func (err StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", err.Op, err.Path, err.Err)
}

func (err StoreError) Unwrap() error { return err.Err }

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

func IsAuth(err error) bool {
	var aErr *AuthError
	return errors.As(err, &aErr)
}

func IsStore(err error) bool {
	var sErr *StoreError
	return errors.As(err, &sErr)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
