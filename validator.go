package crmauth

import (
	"context"
	"time"
)

// SessionValidator confirms a token with the authority and returns the
// canonical identity. Failures are ErrUnauthorized or ErrNetwork.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}

// SessionValidatorFunc adapts a function into a SessionValidator.
type SessionValidatorFunc func(ctx context.Context, token string) (*Identity, error)

// Validate satisfies the SessionValidator interface.
func (f SessionValidatorFunc) Validate(ctx context.Context, token string) (*Identity, error) {
	if f == nil {
		return nil, newKind(ErrNetwork, "no session validator configured", nil)
	}
	return f(ctx, token)
}

// AuthorityValidator validates tokens against Authority.Me
type AuthorityValidator struct {
	authority Authority
	now       func() time.Time
}

// NewAuthorityValidator wraps the authority's /auth/me call.
func NewAuthorityValidator(authority Authority) *AuthorityValidator {
	return &AuthorityValidator{
		authority: authority,
		now:       time.Now,
	}
}

// Validate satisfies the SessionValidator interface.
func (v *AuthorityValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, newKind(ErrUnauthorized, "missing session token", nil)
	}

	if TokenExpired(token, v.now()) {
		return nil, newKind(ErrUnauthorized, "session token expired", map[string]any{
			"reason": "expired",
		})
	}

	identity, err := v.authority.Me(ctx, token)
	if err != nil {
		return nil, classifyValidationError(err)
	}
	return identity, nil
}

// classifyValidationError narrows any failure to the two outcomes a caller
// acts on. Anything the authority did not explicitly reject is transient.
func classifyValidationError(err error) error {
	switch {
	case IsUnauthorized(err), IsNetworkError(err):
		return err
	default:
		return wrapKind(err, ErrNetwork, "session validation failed")
	}
}
