package cmd

import (
	"context"
	"fmt"
	"os"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/goliatone/go-crmauth/repository"
	"github.com/pterm/pterm"
)

var _ crmauth.Logger = ptermLogger{}

// ptermLogger keeps library chatter behind --debug.
type ptermLogger struct{}

func (ptermLogger) Debug(format string, args ...any) { pterm.Debug.Printfln(format, args...) }
func (ptermLogger) Info(format string, args ...any)  { pterm.Debug.Printfln(format, args...) }
func (ptermLogger) Error(format string, args ...any) { pterm.Warning.Printfln(format, args...) }

type session struct {
	*crmauth.Manager
	closeStore func() error
}

func (s *session) Close() {
	s.Dispose()
	if err := s.closeStore(); err != nil {
		pterm.Warning.Printfln("closing credential store: %v", err)
	}
}

// openSession builds a manager over the configured store and resolves the
// stored session before returning.
func openSession(ctx context.Context, cfg *config.Config, opts ...crmauth.ManagerOption) (*session, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	logger := ptermLogger{}
	authority := crmauth.NewHTTPAuthorityFromConfig(cfg.Auth, crmauth.WithAuthorityLogger(logger))

	m := crmauth.NewManager(store, authority, append([]crmauth.ManagerOption{
		crmauth.WithLogger(logger),
		crmauth.WithRevalidateInterval(0),
		crmauth.WithPermissionPreload(false),
		crmauth.WithDebug(cfg.Debug),
	}, opts...)...)

	s := &session{Manager: m, closeStore: closeStore}
	if err := m.Init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config) (crmauth.CredentialStore, func() error, error) {
	ttl := cfg.Auth.GetCredentialTTL()

	switch cfg.Store.Driver {
	case config.StoreSQLite:
		if cfg.Store.DSN == "" {
			if err := os.MkdirAll(cfg.Store.Dir, 0700); err != nil {
				return nil, nil, err
			}
		}
		repo, err := repository.Open(ctx, cfg.Store.SQLiteDSN(), cfg.Store.Slot, ttl)
		if err != nil {
			return nil, nil, err
		}
		return repo.Credentials(), repo.Close, nil
	default:
		store, err := crmauth.NewFileCredentialStore(cfg.Store.Dir, ttl)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	}
}

func describeState(s *session) string {
	snap := s.Snapshot()
	switch {
	case snap.State == crmauth.StateAuthenticated && s.Confirmed():
		return "signed in"
	case snap.State == crmauth.StateAuthenticated:
		return "signed in (not confirmed, API unreachable)"
	case snap.Expired:
		return "signed out (session expired)"
	default:
		return "signed out"
	}
}
