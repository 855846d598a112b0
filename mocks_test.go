package crmauth_test

import (
	"context"
	"sync"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/stretchr/testify/mock"
)

// MockAuthority implements crmauth.Authority
type MockAuthority struct {
	mock.Mock
}

func (m *MockAuthority) Login(ctx context.Context, email, password string) (*crmauth.AuthResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*crmauth.AuthResult)
	return res, args.Error(1)
}

func (m *MockAuthority) Register(ctx context.Context, input crmauth.RegisterInput) (*crmauth.AuthResult, error) {
	args := m.Called(ctx, input)
	res, _ := args.Get(0).(*crmauth.AuthResult)
	return res, args.Error(1)
}

func (m *MockAuthority) Me(ctx context.Context, token string) (*crmauth.Identity, error) {
	args := m.Called(ctx, token)
	identity, _ := args.Get(0).(*crmauth.Identity)
	return identity, args.Error(1)
}

func (m *MockAuthority) Logout(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockAuthority) Permissions(ctx context.Context, token string) ([]crmauth.Permission, error) {
	args := m.Called(ctx, token)
	perms, _ := args.Get(0).([]crmauth.Permission)
	return perms, args.Error(1)
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []crmauth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event crmauth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []crmauth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crmauth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// failingStore wraps a store and fails reads or writes on demand
type failingStore struct {
	crmauth.CredentialStore
	failSet   error
	failToken error
}

func (s *failingStore) Token(ctx context.Context) (string, bool, error) {
	if s.failToken != nil {
		return "", false, s.failToken
	}
	return s.CredentialStore.Token(ctx)
}

func (s *failingStore) SetCredential(ctx context.Context, token string, identity *crmauth.Identity) error {
	if s.failSet != nil {
		return s.failSet
	}
	return s.CredentialStore.SetCredential(ctx, token, identity)
}

func ada() *crmauth.Identity {
	return &crmauth.Identity{
		ID:    "user-1",
		Name:  "Ada",
		Email: "ada@example.com",
		Role:  crmauth.RoleUser,
		Organization: crmauth.Organization{
			ID:   "org-1",
			Name: "Acme",
		},
	}
}

func grace() *crmauth.Identity {
	return &crmauth.Identity{
		ID:    "user-2",
		Name:  "Grace",
		Email: "grace@example.com",
		Role:  crmauth.RoleAdmin,
		Organization: crmauth.Organization{
			ID:   "org-1",
			Name: "Acme",
		},
	}
}
