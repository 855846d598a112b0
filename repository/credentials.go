package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/uptrace/bun"
)

// DefaultSlot is the credential slot used when none is configured.
const DefaultSlot = "default"

// CredentialModel is the Bun model for a persisted session credential.
type CredentialModel struct {
	bun.BaseModel `bun:"table:crm_credentials"`

	Slot      string            `bun:"slot,pk"`
	Token     string            `bun:"token"`
	Identity  *crmauth.Identity `bun:"identity,type:json"`
	ExpiresAt time.Time         `bun:"expires_at,notnull"`
	UpdatedAt time.Time         `bun:"updated_at,notnull"`
}

var _ crmauth.CredentialStore = &CredentialRepository{}

// CredentialRepository implements crmauth.CredentialStore on a SQL table so
// several processes on one machine can share a session.
type CredentialRepository struct {
	db   *bun.DB
	slot string
	ttl  time.Duration
	now  func() time.Time
}

// NewCredentialRepository returns a store bound to slot. An empty slot
// uses DefaultSlot and ttl <= 0 uses crmauth.DefaultCredentialTTL.
func NewCredentialRepository(db *bun.DB, slot string, ttl time.Duration) *CredentialRepository {
	if slot == "" {
		slot = DefaultSlot
	}
	if ttl <= 0 {
		ttl = crmauth.DefaultCredentialTTL
	}
	return &CredentialRepository{
		db:   db,
		slot: slot,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Migrate creates the credentials table if missing.
func (r *CredentialRepository) Migrate(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*CredentialModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// SetCredential implements crmauth.CredentialStore. Token and identity are
// written in one statement inside a transaction.
func (r *CredentialRepository) SetCredential(ctx context.Context, token string, identity *crmauth.Identity) error {
	if token == "" || identity == nil {
		return crmauth.ErrInvalidInput
	}

	now := r.now()
	model := &CredentialModel{
		Slot:      r.slot,
		Token:     token,
		Identity:  identity.Clone(),
		ExpiresAt: crmauth.CredentialExpiry(token, now, r.ttl),
		UpdatedAt: now,
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(model).
			On("CONFLICT (slot) DO UPDATE").
			Set("token = EXCLUDED.token").
			Set("identity = EXCLUDED.identity").
			Set("expires_at = EXCLUDED.expires_at").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
}

// ClearCredential implements crmauth.CredentialStore. Clearing an empty
// slot is not an error.
func (r *CredentialRepository) ClearCredential(ctx context.Context) error {
	_, err := r.db.NewDelete().
		Model((*CredentialModel)(nil)).
		Where("slot = ?", r.slot).
		Exec(ctx)
	return err
}

// Token implements crmauth.CredentialStore.
func (r *CredentialRepository) Token(ctx context.Context) (string, bool, error) {
	model, err := r.load(ctx)
	if err != nil || model == nil || model.Token == "" {
		return "", false, err
	}
	return model.Token, true, nil
}

// CachedIdentity implements crmauth.CredentialStore.
func (r *CredentialRepository) CachedIdentity(ctx context.Context) (*crmauth.Identity, bool, error) {
	model, err := r.load(ctx)
	if err != nil || model == nil || model.Identity == nil {
		return nil, false, err
	}
	return model.Identity.Clone(), true, nil
}

func (r *CredentialRepository) load(ctx context.Context) (*CredentialModel, error) {
	var model CredentialModel
	err := r.db.NewSelect().
		Model(&model).
		Where("slot = ?", r.slot).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if !model.ExpiresAt.IsZero() && !r.now().Before(model.ExpiresAt) {
		return nil, nil
	}
	return &model, nil
}
