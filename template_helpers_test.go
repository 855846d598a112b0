package crmauth_test

import (
	"context"
	"testing"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTemplateHelpersWithoutSession(t *testing.T) {
	helpers := crmauth.TemplateHelpers(nil)

	for _, name := range []string{"is_authenticated", "can", "can_record", "is_owner", "has_role", "is_at_least", "roles", crmauth.TemplateUserKey} {
		assert.Contains(t, helpers, name)
	}

	isAuthenticated, ok := helpers["is_authenticated"].(func() bool)
	require.True(t, ok)
	assert.False(t, isAuthenticated())

	can, ok := helpers["can"].(func(string, string) bool)
	require.True(t, ok)
	assert.False(t, can("customer", "read"))

	roles, ok := helpers["roles"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "manager", roles["manager"])
	assert.Len(t, roles, len(crmauth.GetAllRoles()))
}

func TestTemplateHelpersWithSession(t *testing.T) {
	authority := &MockAuthority{}
	authority.On("Login", mock.Anything, "a@x.com", "secret1").
		Return(&crmauth.AuthResult{Token: "t1", Identity: ada()}, nil).Once()

	m, _ := newTestManager(t, crmauth.NewMemoryCredentialStore(0), authority)
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.Login(context.Background(), "a@x.com", "secret1"))

	helpers := crmauth.TemplateHelpers(m)

	assert.True(t, helpers["is_authenticated"].(func() bool)())
	assert.True(t, helpers["can"].(func(string, string) bool)("customer", "read"))
	assert.False(t, helpers["can"].(func(string, string) bool)("setting", "manage"))
	assert.True(t, helpers["can_record"].(func(string, string, string) bool)("task", "delete", "t-9"))
	assert.True(t, helpers["is_owner"].(func(string, string) bool)("user-1", ""))
	assert.False(t, helpers["is_owner"].(func(string, string) bool)("user-2", "user-3"))
	assert.True(t, helpers["has_role"].(func(string) bool)("user"))
	assert.True(t, helpers["is_at_least"].(func(string) bool)("viewer"))
	assert.False(t, helpers["is_at_least"].(func(string) bool)("manager"))

	user, ok := helpers[crmauth.TemplateUserKey].(*crmauth.Identity)
	require.True(t, ok)
	assert.Equal(t, "Ada", user.Name)
}
