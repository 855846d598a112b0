package crmauth

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Organization is the tenant an identity belongs to
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Plan string `json:"plan,omitempty"`
}

// Identity is the cached user profile. It mirrors what the authority
// returns from /auth/me and is never authoritative on its own.
type Identity struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Role         UserRole     `json:"role"`
	Organization Organization `json:"organization"`
}

// Clone returns a copy that callers can mutate freely.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	return &out
}

// SameSubject reports whether both identities describe the same user
// with the same role, which is what the permission cache is keyed on.
func (i *Identity) SameSubject(other *Identity) bool {
	if i == nil || other == nil {
		return i == nil && other == nil
	}
	return i.ID == other.ID && i.Role == other.Role
}

// Config holds client session options
type Config interface {
	GetBaseURL() string
	GetRequestTimeout() time.Duration
	GetRevalidateInterval() time.Duration
	GetCredentialTTL() time.Duration
	GetTokenCookieName() string
	GetIdentityCookieName() string
	GetCookieSecure() bool
	GetTokenScriptable() bool
	GetCookieHashKey() string
	GetCookieBlockKey() string
	GetLoginPath() string
	GetRedirectParam() string
	GetDefaultRedirect() string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] CRMAUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] CRMAUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] CRMAUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NopLogger discards everything, handy in tests.
func NopLogger() Logger {
	return nopLogger{}
}
