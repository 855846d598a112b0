package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestManagerOpenSharesCredentials(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "credentials.db")

	first, err := Open(ctx, dsn, "", time.Hour)
	require.NoError(t, err)
	first.MustValidate()
	require.NoError(t, first.Credentials().SetCredential(ctx, "t1", testIdentity()))
	require.NoError(t, first.Close())

	second, err := Open(ctx, dsn, "", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	token, ok, err := second.Credentials().Token(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t1", token)
}

func TestManagerValidate(t *testing.T) {
	assert.Error(t, (&Manager{}).Validate())

	_, db := setupCredentialRepo(t, "")
	m := NewManager(db, "", 0)
	assert.NoError(t, m.Validate())
}

func TestManagerRunInTxCancelled(t *testing.T) {
	_, db := setupCredentialRepo(t, "")
	m := NewManager(db, "", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
