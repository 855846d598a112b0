package crmauth_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	crmauth "github.com/goliatone/go-crmauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func storeContract(t *testing.T, newStore func(t *testing.T) crmauth.CredentialStore) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		store := newStore(t)
		assertCleared(t, store)
	})

	t.Run("set and read", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetCredential(ctx, "t1", ada()))

		token, ok, err := store.Token(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "t1", token)

		identity, ok, err := store.CachedIdentity(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ada(), identity)
	})

	t.Run("rejects partial writes", func(t *testing.T) {
		store := newStore(t)
		assert.True(t, crmauth.IsInvalidInput(store.SetCredential(ctx, "", ada())))
		assert.True(t, crmauth.IsInvalidInput(store.SetCredential(ctx, "t1", nil)))
		assertCleared(t, store)
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.ClearCredential(ctx))
		require.NoError(t, store.SetCredential(ctx, "t1", ada()))
		require.NoError(t, store.ClearCredential(ctx))
		require.NoError(t, store.ClearCredential(ctx))
		assertCleared(t, store)
	})

	t.Run("drops tokens past exp", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetCredential(ctx, signedToken(t, time.Now().Add(-time.Minute)), ada()))
		assertCleared(t, store)
	})

	t.Run("returns copies", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetCredential(ctx, "t1", ada()))

		identity, _, err := store.CachedIdentity(ctx)
		require.NoError(t, err)
		identity.Name = "changed"

		again, _, err := store.CachedIdentity(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Ada", again.Name)
	})
}

func TestMemoryCredentialStore(t *testing.T) {
	storeContract(t, func(t *testing.T) crmauth.CredentialStore {
		return crmauth.NewMemoryCredentialStore(0)
	})
}

func TestFileCredentialStore(t *testing.T) {
	storeContract(t, func(t *testing.T) crmauth.CredentialStore {
		store, err := crmauth.NewFileCredentialStore(t.TempDir(), 0)
		require.NoError(t, err)
		return store
	})
}

func TestFileCredentialStorePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "crm")
	store, err := crmauth.NewFileCredentialStore(dir, 0)
	require.NoError(t, err)

	require.NoError(t, store.SetCredential(context.Background(), "t1", ada()))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestFileCredentialStoreCorruptedFile(t *testing.T) {
	store, err := crmauth.NewFileCredentialStore(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0600))

	_, _, err = store.Token(context.Background())
	require.Error(t, err)
	assert.True(t, crmauth.IsInconsistentState(err))

	authority := &MockAuthority{}
	m, sink := newTestManager(t, store, authority)
	require.NoError(t, m.Init(context.Background()))

	assert.Equal(t, crmauth.StateUnauthenticated, m.State())
	assert.Contains(t, sink.types(), crmauth.ActivityEventInconsistent)
	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr))
	authority.AssertNotCalled(t, "Me", mock.Anything, mock.Anything)
}

func TestFileCredentialStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first, err := crmauth.NewFileCredentialStore(dir, 0)
	require.NoError(t, err)
	require.NoError(t, first.SetCredential(context.Background(), "t1", ada()))

	second, err := crmauth.NewFileCredentialStore(dir, 0)
	require.NoError(t, err)

	token, ok, err := second.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t1", token)
}

func TestCredentialExpiry(t *testing.T) {
	now := time.Now()

	assert.WithinDuration(t, now.Add(time.Hour), crmauth.CredentialExpiry("opaque", now, time.Hour), time.Second)

	exp := now.Add(10 * time.Minute)
	assert.WithinDuration(t, exp, crmauth.CredentialExpiry(signedToken(t, exp), now, time.Hour), time.Second)

	assert.WithinDuration(t, now.Add(crmauth.DefaultCredentialTTL), crmauth.CredentialExpiry("opaque", now, 0), time.Second)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, crmauth.TokenExpired("opaque-token", now))
	assert.False(t, crmauth.TokenExpired(signedToken(t, now.Add(time.Hour)), now))
	assert.True(t, crmauth.TokenExpired(signedToken(t, now.Add(-time.Hour)), now))
}
