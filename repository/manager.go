package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Manager owns the database handle behind the credential repository.
type Manager struct {
	db          *bun.DB
	credentials *CredentialRepository
}

// NewManager wraps an open bun.DB.
func NewManager(db *bun.DB, slot string, ttl time.Duration) *Manager {
	return &Manager{
		db:          db,
		credentials: NewCredentialRepository(db, slot, ttl),
	}
}

// Open connects to the SQLite database at dsn and migrates the schema.
func Open(ctx context.Context, dsn, slot string, ttl time.Duration) (*Manager, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)

	m := NewManager(bun.NewDB(sqldb, sqlitedialect.New()), slot, ttl)
	if err := m.credentials.Migrate(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.credentials == nil {
		return errors.New("repository credentials should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) Credentials() *CredentialRepository {
	return m.credentials
}

func (m *Manager) Close() error {
	return m.db.Close()
}
