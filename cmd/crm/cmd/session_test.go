package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := map[string]any{"id": "u1", "name": "Ada", "email": "a@x.com", "role": "viewer"}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "t1", "user": user})
		case "/api/auth/me":
			_ = json.NewEncoder(w).Encode(map[string]any{"user": user})
		case "/api/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(api.Close)

	cfg := config.Defaults()
	cfg.Auth.BaseURL = api.URL + "/api"
	cfg.Store.Driver = driver
	cfg.Store.Dir = t.TempDir()
	return &cfg
}

func TestOpenSessionAcrossRuns(t *testing.T) {
	pterm.DisableOutput()
	t.Cleanup(pterm.EnableOutput)

	for _, driver := range []string{config.StoreFile, config.StoreSQLite} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t, driver)

			first, err := openSession(ctx, cfg)
			require.NoError(t, err)
			assert.Equal(t, "signed out", describeState(first))
			require.NoError(t, first.Login(ctx, "a@x.com", "secret1"))
			first.Close()

			second, err := openSession(ctx, cfg)
			require.NoError(t, err)
			assert.True(t, second.IsAuthenticated())
			assert.Equal(t, "signed in", describeState(second))
			assert.Equal(t, "Ada", second.CurrentIdentity().Name)

			second.Logout(ctx)
			second.Close()

			third, err := openSession(ctx, cfg)
			require.NoError(t, err)
			defer third.Close()
			assert.False(t, third.IsAuthenticated())
		})
	}
}

func TestPermissionTable(t *testing.T) {
	resolver := crmauth.NewPermissionResolver(nil, crmauth.WithResolverLogger(crmauth.NopLogger()))
	resolver.Reset(&crmauth.Identity{ID: "u1", Role: crmauth.RoleViewer}, "t1")

	data := permissionTable(resolver)
	require.NotEmpty(t, data)
	assert.Equal(t, []string{"RESOURCE", "ACTIONS"}, data[0])
	assert.Contains(t, data, []string{"deal", "read"})
	for _, row := range data[1:] {
		assert.Equal(t, "read", row[1], row[0])
	}
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "invalid email or password", failureMessage(crmauth.ErrInvalidCredentials))
	assert.Equal(t, "the API could not be reached", failureMessage(crmauth.ErrNetwork))
	assert.Equal(t, "every field is required", failureMessage(crmauth.ErrInvalidInput))
}

func TestDescribeConfigHidesCookieKeys(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auth.BaseURL = "https://api.example.com"
	cfg.Auth.CookieHashKey = "0123456789abcdef0123456789abcdef"

	out := describeConfig(&cfg)
	assert.Contains(t, out, "https://api.example.com")
	assert.Contains(t, out, "base_url")
	assert.NotContains(t, out, cfg.Auth.CookieHashKey)
}
