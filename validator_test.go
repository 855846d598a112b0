package crmauth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAuthorityValidator(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		authority := &MockAuthority{}
		authority.On("Me", mock.Anything, "t1").Return(ada(), nil).Once()

		identity, err := crmauth.NewAuthorityValidator(authority).Validate(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", identity.ID)
	})

	t.Run("empty token skips the call", func(t *testing.T) {
		authority := &MockAuthority{}
		_, err := crmauth.NewAuthorityValidator(authority).Validate(context.Background(), "")
		assert.True(t, crmauth.IsUnauthorized(err))
		authority.AssertNotCalled(t, "Me", mock.Anything, mock.Anything)
	})

	t.Run("expired jwt skips the call", func(t *testing.T) {
		authority := &MockAuthority{}
		token := signedToken(t, time.Now().Add(-time.Minute))

		_, err := crmauth.NewAuthorityValidator(authority).Validate(context.Background(), token)
		assert.True(t, crmauth.IsUnauthorized(err))
		authority.AssertNotCalled(t, "Me", mock.Anything, mock.Anything)
	})

	t.Run("rejected", func(t *testing.T) {
		authority := &MockAuthority{}
		authority.On("Me", mock.Anything, "t1").Return(nil, crmauth.ErrUnauthorized).Once()

		_, err := crmauth.NewAuthorityValidator(authority).Validate(context.Background(), "t1")
		assert.True(t, crmauth.IsUnauthorized(err))
		assert.False(t, crmauth.IsNetworkError(err))
	})

	t.Run("unknown failures are transient", func(t *testing.T) {
		authority := &MockAuthority{}
		authority.On("Me", mock.Anything, "t1").Return(nil, errors.New("connection reset")).Once()

		_, err := crmauth.NewAuthorityValidator(authority).Validate(context.Background(), "t1")
		assert.True(t, crmauth.IsNetworkError(err))
		assert.False(t, crmauth.IsUnauthorized(err))
	})
}

func TestSessionValidatorFunc(t *testing.T) {
	var nilFn crmauth.SessionValidatorFunc
	_, err := nilFn.Validate(context.Background(), "t1")
	assert.True(t, crmauth.IsNetworkError(err))

	fn := crmauth.SessionValidatorFunc(func(ctx context.Context, token string) (*crmauth.Identity, error) {
		return ada(), nil
	})
	identity, err := fn.Validate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", identity.Name)
}
