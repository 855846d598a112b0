package crmauth

import (
	"context"
	"sync"
	"time"
)

// CredentialStore owns the persisted token and the cached identity. Both
// values are written and cleared together: callers never observe one
// without the other after a failed write.
type CredentialStore interface {
	SetCredential(ctx context.Context, token string, identity *Identity) error
	ClearCredential(ctx context.Context) error
	Token(ctx context.Context) (string, bool, error)
	CachedIdentity(ctx context.Context) (*Identity, bool, error)
}

// CredentialReader is the read-only view handed to components other than
// the Manager.
type CredentialReader interface {
	Token(ctx context.Context) (string, bool, error)
	CachedIdentity(ctx context.Context) (*Identity, bool, error)
}

// Credential is the record persisted by stores that keep both values in
// a single blob.
type Credential struct {
	Token     string    `json:"token"`
	Identity  *Identity `json:"identity,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at now.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil {
		return true
	}
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// CredentialExpiry returns when a freshly issued token should be dropped:
// ttl from now, or the token's own exp claim when that comes first.
func CredentialExpiry(token string, now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	expires := now.Add(ttl)
	if exp, ok := TokenExpiry(token); ok && exp.Before(expires) {
		expires = exp
	}
	return expires
}

var _ CredentialStore = &MemoryCredentialStore{}

// MemoryCredentialStore keeps the credential in process memory
type MemoryCredentialStore struct {
	mu   sync.RWMutex
	cred *Credential
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryCredentialStore returns an empty store. ttl <= 0 uses
// DefaultCredentialTTL.
func NewMemoryCredentialStore(ttl time.Duration) *MemoryCredentialStore {
	return &MemoryCredentialStore{
		ttl: ttl,
		now: time.Now,
	}
}

func (s *MemoryCredentialStore) SetCredential(ctx context.Context, token string, identity *Identity) error {
	if token == "" || identity == nil {
		return newKind(ErrInvalidInput, "token and identity are required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = &Credential{
		Token:     token,
		Identity:  identity.Clone(),
		ExpiresAt: CredentialExpiry(token, s.now(), s.ttl),
	}
	return nil
}

func (s *MemoryCredentialStore) ClearCredential(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

func (s *MemoryCredentialStore) Token(ctx context.Context) (string, bool, error) {
	cred := s.current()
	if cred == nil || cred.Token == "" {
		return "", false, nil
	}
	return cred.Token, true, nil
}

func (s *MemoryCredentialStore) CachedIdentity(ctx context.Context) (*Identity, bool, error) {
	cred := s.current()
	if cred == nil || cred.Identity == nil {
		return nil, false, nil
	}
	return cred.Identity.Clone(), true, nil
}

// Seed writes raw values without consistency checks. It exists to model
// corrupted client state (identity without token) in tests and migrations.
func (s *MemoryCredentialStore) Seed(token string, identity *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = &Credential{
		Token:     token,
		Identity:  identity.Clone(),
		ExpiresAt: s.now().Add(s.effectiveTTL()),
	}
}

func (s *MemoryCredentialStore) current() *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil || s.cred.Expired(s.now()) {
		return nil
	}
	return s.cred
}

func (s *MemoryCredentialStore) effectiveTTL() time.Duration {
	if s.ttl <= 0 {
		return DefaultCredentialTTL
	}
	return s.ttl
}
