package crmauth_test

import (
	"context"
	"testing"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newResolver(authority crmauth.Authority, opts ...crmauth.PermissionResolverOption) *crmauth.PermissionResolver {
	return crmauth.NewPermissionResolver(authority, append([]crmauth.PermissionResolverOption{
		crmauth.WithResolverLogger(crmauth.NopLogger()),
	}, opts...)...)
}

func TestResolverUnboundDeniesEverything(t *testing.T) {
	r := newResolver(&MockAuthority{})

	assert.False(t, r.CheckPermission(crmauth.ResourceCustomer, crmauth.ActionRead))
	assert.False(t, r.IsOwner(crmauth.Ownership{AssignedTo: ""}))
	assert.NoError(t, r.LoadPermissions(context.Background()))
	assert.False(t, r.Loaded())
}

func TestResolverAdminBypass(t *testing.T) {
	for _, role := range []crmauth.UserRole{crmauth.RoleAdmin, crmauth.RoleSuperAdmin} {
		t.Run(string(role), func(t *testing.T) {
			r := newResolver(&MockAuthority{})
			identity := ada()
			identity.Role = role
			r.Reset(identity, "t1")

			require.False(t, r.Loaded())
			for _, resource := range crmauth.AllResources() {
				for _, action := range crmauth.AllActions() {
					assert.True(t, r.CheckPermission(resource, action), "%s %s", resource, action)
				}
			}
			assert.True(t, r.Can("anything", "whatever"))
		})
	}
}

func TestResolverFallbackThenDynamic(t *testing.T) {
	authority := &MockAuthority{}
	authority.On("Permissions", mock.Anything, "t1").Return([]crmauth.Permission{
		{Resource: crmauth.ResourceCustomer, Action: crmauth.ActionRead},
		{Resource: crmauth.ResourceReport, Action: crmauth.ActionCreate},
	}, nil).Once()

	r := newResolver(authority)
	r.Reset(ada(), "t1")

	// role defaults before load
	assert.True(t, r.CheckPermission(crmauth.ResourceCustomer, crmauth.ActionRead))
	assert.True(t, r.CheckPermission(crmauth.ResourceDeal, crmauth.ActionUpdate))
	assert.False(t, r.CheckPermission(crmauth.ResourceReport, crmauth.ActionCreate))
	assert.False(t, r.CheckPermission(crmauth.ResourceSetting, crmauth.ActionManage))

	require.NoError(t, r.LoadPermissions(context.Background()))
	require.True(t, r.Loaded())

	assert.True(t, r.CheckPermission(crmauth.ResourceCustomer, crmauth.ActionRead))
	assert.True(t, r.CheckPermission(crmauth.ResourceReport, crmauth.ActionCreate))
	assert.False(t, r.CheckPermission(crmauth.ResourceDeal, crmauth.ActionUpdate))

	// a second load is a no-op
	require.NoError(t, r.LoadPermissions(context.Background()))
	authority.AssertNumberOfCalls(t, "Permissions", 1)
}

func TestResolverManageImpliesActions(t *testing.T) {
	authority := &MockAuthority{}
	authority.On("Permissions", mock.Anything, "t1").Return([]crmauth.Permission{
		{Resource: crmauth.ResourceWebhook, Action: crmauth.ActionManage},
	}, nil).Once()

	r := newResolver(authority)
	r.Reset(ada(), "t1")
	require.NoError(t, r.LoadPermissions(context.Background()))

	for _, action := range crmauth.AllActions() {
		assert.True(t, r.CheckPermission(crmauth.ResourceWebhook, action), string(action))
	}
	assert.False(t, r.CheckPermission(crmauth.ResourceAPIKey, crmauth.ActionRead))
}

func TestResolverLoadFailureKeepsFallback(t *testing.T) {
	authority := &MockAuthority{}
	authority.On("Permissions", mock.Anything, "t1").Return(nil, crmauth.ErrNetwork).Once()

	r := newResolver(authority)
	r.Reset(ada(), "t1")

	err := r.LoadPermissions(context.Background())
	require.Error(t, err)
	assert.False(t, r.Loaded())
	assert.True(t, r.CheckPermission(crmauth.ResourceTask, crmauth.ActionDelete))
}

func TestResolverDiscardsLoadForPreviousIdentity(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	authority := &MockAuthority{}
	authority.On("Permissions", mock.Anything, "t1").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return([]crmauth.Permission{{Resource: crmauth.ResourceSetting, Action: crmauth.ActionManage}}, nil).Once()

	r := newResolver(authority)
	r.Reset(ada(), "t1")

	done := make(chan error, 1)
	go func() {
		done <- r.LoadPermissions(context.Background())
	}()

	<-started
	viewer := grace()
	viewer.Role = crmauth.RoleViewer
	r.Reset(viewer, "t2")
	close(release)
	require.NoError(t, <-done)

	assert.False(t, r.Loaded())
	assert.False(t, r.CheckPermission(crmauth.ResourceSetting, crmauth.ActionManage))
	assert.Equal(t, "user-2", r.Identity().ID)
}

func TestResolverIsOwner(t *testing.T) {
	r := newResolver(&MockAuthority{})
	r.Reset(ada(), "t1")

	tests := []struct {
		name   string
		record crmauth.Ownable
		want   bool
	}{
		{name: "assigned", record: crmauth.Ownership{AssignedTo: "user-1"}, want: true},
		{name: "created", record: crmauth.Ownership{CreatedBy: "user-1"}, want: true},
		{name: "other", record: crmauth.Ownership{AssignedTo: "user-2", CreatedBy: "user-3"}, want: false},
		{name: "unowned", record: crmauth.Ownership{}, want: false},
		{name: "nil", record: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsOwner(tt.record))
		})
	}
}

func TestManagerPermissionsFollowIdentity(t *testing.T) {
	userA := ada()
	userA.Role = crmauth.RoleManager
	userB := grace()
	userB.Role = crmauth.RoleViewer

	authority := &MockAuthority{}
	authority.On("Login", mock.Anything, "a@x.com", "secret1").
		Return(&crmauth.AuthResult{Token: "ta", Identity: userA}, nil).Once()
	authority.On("Login", mock.Anything, "b@x.com", "secret2").
		Return(&crmauth.AuthResult{Token: "tb", Identity: userB}, nil).Once()
	authority.On("Permissions", mock.Anything, "ta").Return([]crmauth.Permission{
		{Resource: crmauth.ResourceDeal, Action: crmauth.ActionDelete},
	}, nil).Once()
	authority.On("Logout", mock.Anything, "ta").Return(nil).Once()

	m, _ := newTestManager(t, crmauth.NewMemoryCredentialStore(0), authority)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	require.NoError(t, m.Login(ctx, "a@x.com", "secret1"))
	resolver := m.Permissions()
	require.NoError(t, resolver.LoadPermissions(ctx))
	assert.True(t, resolver.CheckPermission(crmauth.ResourceDeal, crmauth.ActionDelete))

	m.Logout(ctx)
	assert.False(t, resolver.CheckPermission(crmauth.ResourceDeal, crmauth.ActionDelete))
	assert.Nil(t, resolver.Identity())

	require.NoError(t, m.Login(ctx, "b@x.com", "secret2"))
	assert.False(t, resolver.Loaded())
	assert.False(t, resolver.CheckPermission(crmauth.ResourceDeal, crmauth.ActionDelete))
	assert.False(t, resolver.CheckPermission(crmauth.ResourceDeal, crmauth.ActionUpdate))
	assert.True(t, resolver.CheckPermission(crmauth.ResourceDeal, crmauth.ActionRead))
	assert.Equal(t, "user-2", resolver.Identity().ID)
	authority.AssertExpectations(t)
}

func TestLoginThenFallbackThenDynamicPermissions(t *testing.T) {
	user := &crmauth.Identity{ID: "u1", Name: "A", Email: "a@x.com", Role: crmauth.RoleUser}

	authority := &MockAuthority{}
	authority.On("Login", mock.Anything, "a@x.com", "secret1").
		Return(&crmauth.AuthResult{Token: "t1", Identity: user}, nil).Once()
	authority.On("Permissions", mock.Anything, "t1").Return([]crmauth.Permission{
		{Resource: crmauth.ResourceCustomer, Action: crmauth.ActionRead},
	}, nil).Once()

	store := crmauth.NewMemoryCredentialStore(0)
	m, _ := newTestManager(t, store, authority)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	require.NoError(t, m.Login(ctx, "a@x.com", "secret1"))
	assert.True(t, m.IsAuthenticated())

	token, _, err := store.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", token)

	resolver := m.Permissions()
	assert.False(t, resolver.Loaded())
	assert.True(t, resolver.CheckPermission(crmauth.ResourceCustomer, crmauth.ActionRead))

	require.NoError(t, resolver.LoadPermissions(ctx))
	assert.True(t, resolver.Loaded())
	assert.True(t, resolver.CheckPermission(crmauth.ResourceCustomer, crmauth.ActionRead))
}

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, crmauth.RoleAdmin.IsAtLeast(crmauth.RoleManager))
	assert.True(t, crmauth.RoleManager.IsAtLeast(crmauth.RoleManager))
	assert.False(t, crmauth.RoleViewer.IsAtLeast(crmauth.RoleUser))

	role, ok := crmauth.ParseRole(" Admin ")
	assert.True(t, ok)
	assert.Equal(t, crmauth.RoleAdmin, role)

	_, ok = crmauth.ParseRole("owner")
	assert.False(t, ok)
}
