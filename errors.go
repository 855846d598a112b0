package crmauth

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeUnauthorized       = "SESSION_UNAUTHORIZED"
	TextCodeNetwork            = "AUTHORITY_UNREACHABLE"
	TextCodeInconsistentState  = "SESSION_INCONSISTENT"
	TextCodeInvalidInput       = "INVALID_INPUT"
)

// ErrInvalidCredentials is returned when login or registration is rejected
// by the authority (wrong password, unknown or duplicate account).
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrUnauthorized is returned when the authority rejects a token.
var ErrUnauthorized = errors.New("session token rejected", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(errors.CodeUnauthorized)

// ErrNetwork is returned when the authority cannot be reached.
var ErrNetwork = errors.New("authority unreachable", errors.CategoryOperation).
	WithTextCode(TextCodeNetwork).
	WithCode(http.StatusBadGateway)

// ErrInconsistentState flags a cached identity without token or the reverse.
var ErrInconsistentState = errors.New("inconsistent credential state", errors.CategoryInternal).
	WithTextCode(TextCodeInconsistentState).
	WithCode(errors.CodeInternal)

// ErrInvalidInput is returned before any remote call when input is missing.
var ErrInvalidInput = errors.New("invalid input", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidInput).
	WithCode(errors.CodeBadRequest)

// IsUnauthorized reports whether err means the token was rejected
func IsUnauthorized(err error) bool {
	return hasTextCode(err, TextCodeUnauthorized)
}

// IsNetworkError reports whether err means the authority was unreachable
func IsNetworkError(err error) bool {
	return hasTextCode(err, TextCodeNetwork)
}

// IsInvalidCredentials reports whether err is a rejected login/registration
func IsInvalidCredentials(err error) bool {
	return hasTextCode(err, TextCodeInvalidCredentials)
}

// IsInconsistentState reports whether err flags corrupted credential state
func IsInconsistentState(err error) bool {
	return hasTextCode(err, TextCodeInconsistentState)
}

// IsInvalidInput reports whether err is a local validation failure
func IsInvalidInput(err error) bool {
	return hasTextCode(err, TextCodeInvalidInput)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	for richErr != nil {
		if richErr.TextCode == code {
			return true
		}
		var next *errors.Error
		if !errors.As(richErr.Source, &next) {
			return false
		}
		richErr = next
	}
	return false
}

// wrapKind decorates err with the category and text code of kind while
// keeping the original cause as Source.
func wrapKind(err error, kind *errors.Error, message string) error {
	if err == nil {
		return nil
	}
	if message == "" {
		message = kind.Message
	}
	return errors.Wrap(err, kind.Category, message).
		WithTextCode(kind.TextCode).
		WithCode(kind.Code)
}

// newKind builds a fresh error of the given kind with extra metadata.
func newKind(kind *errors.Error, message string, metadata map[string]any) error {
	if message == "" {
		message = kind.Message
	}
	err := errors.New(message, kind.Category).
		WithTextCode(kind.TextCode).
		WithCode(kind.Code)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

const (
	TextCodeSuperseded = "SESSION_SUPERSEDED"
	TextCodeDisposed   = "SESSION_DISPOSED"
)

// ErrSessionSuperseded is returned when a newer credential change landed
// while the call was in flight; its result was discarded.
var ErrSessionSuperseded = errors.New("session changed while request was in flight", errors.CategoryConflict).
	WithTextCode(TextCodeSuperseded).
	WithCode(errors.CodeConflict)

// ErrDisposed is returned by a Manager after Dispose.
var ErrDisposed = errors.New("session manager disposed", errors.CategoryInternal).
	WithTextCode(TextCodeDisposed).
	WithCode(errors.CodeInternal)

// IsSuperseded reports whether the call lost a race with a newer change
func IsSuperseded(err error) bool {
	return hasTextCode(err, TextCodeSuperseded)
}

func richError(err error) *errors.Error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return nil
	}
	return richErr
}
