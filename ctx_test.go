package crmauth_test

import (
	"context"
	"testing"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityContext(t *testing.T) {
	_, ok := crmauth.IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := crmauth.WithIdentity(context.Background(), ada())
	identity, ok := crmauth.IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-1", identity.ID)

	_, ok = crmauth.IdentityFromContext(crmauth.WithIdentity(context.Background(), nil))
	assert.False(t, ok)
}

func TestCanFromContext(t *testing.T) {
	assert.False(t, crmauth.Can(context.Background(), "customer", "read"))

	resolver := crmauth.NewPermissionResolver(&MockAuthority{}, crmauth.WithResolverLogger(crmauth.NopLogger()))
	resolver.Reset(ada(), "t1")

	ctx := crmauth.WithPermissions(context.Background(), resolver)
	assert.True(t, crmauth.Can(ctx, "customer", "read"))
	assert.False(t, crmauth.Can(ctx, "setting", "manage"))
}
