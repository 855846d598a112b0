package crmauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthority(t *testing.T, handler http.HandlerFunc, opts ...crmauth.HTTPAuthorityOption) *crmauth.HTTPAuthority {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return crmauth.NewHTTPAuthority(server.URL+"/api", append([]crmauth.HTTPAuthorityOption{
		crmauth.WithAuthorityLogger(crmauth.NopLogger()),
	}, opts...)...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPAuthorityLogin(t *testing.T) {
	authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@x.com", body["email"])
		assert.Equal(t, "secret1", body["password"])

		writeJSON(w, http.StatusOK, map[string]any{
			"token": "t1",
			"user": map[string]any{
				"id":    "u1",
				"name":  "A",
				"email": "a@x.com",
				"role":  "user",
				"organization": map[string]any{
					"id":   "o1",
					"name": "Acme",
				},
			},
		})
	})

	res, err := authority.Login(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "t1", res.Token)
	assert.Equal(t, "u1", res.Identity.ID)
	assert.Equal(t, crmauth.RoleUser, res.Identity.Role)
	assert.Equal(t, "Acme", res.Identity.Organization.Name)
}

func TestHTTPAuthorityLoginDataEnvelope(t *testing.T) {
	authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{
			"data": map[string]any{
				"token": "t2",
				"user":  map[string]any{"id": "u2", "role": "manager"},
			},
		})
	})

	res, err := authority.Register(context.Background(), crmauth.RegisterInput{
		Name:             "B",
		Email:            "b@x.com",
		Password:         "secret",
		OrganizationName: "Beta",
	})
	require.NoError(t, err)
	assert.Equal(t, "t2", res.Token)
	assert.Equal(t, crmauth.RoleManager, res.Identity.Role)
}

func TestHTTPAuthorityLoginErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, check: crmauth.IsInvalidCredentials},
		{name: "bad request", status: http.StatusBadRequest, check: crmauth.IsInvalidCredentials},
		{name: "conflict", status: http.StatusConflict, check: crmauth.IsInvalidCredentials},
		{name: "server error", status: http.StatusInternalServerError, check: crmauth.IsNetworkError},
		{name: "bad gateway", status: http.StatusBadGateway, check: crmauth.IsNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"message": "nope"})
			})

			_, err := authority.Login(context.Background(), "a@x.com", "bad")
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
}

func TestHTTPAuthorityLoginMissingToken(t *testing.T) {
	authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": "u1"}})
	})

	_, err := authority.Login(context.Background(), "a@x.com", "secret1")
	require.Error(t, err)
	assert.True(t, crmauth.IsNetworkError(err))
}

func TestHTTPAuthorityMe(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "user", body: map[string]any{"user": map[string]any{"id": "u1", "role": "viewer"}}},
		{name: "data user", body: map[string]any{"data": map[string]any{"user": map[string]any{"id": "u1", "role": "viewer"}}}},
		{name: "data identity", body: map[string]any{"data": map[string]any{"id": "u1", "role": "viewer"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/auth/me", r.URL.Path)
				assert.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
				writeJSON(w, http.StatusOK, tt.body)
			})

			identity, err := authority.Me(context.Background(), "t1")
			require.NoError(t, err)
			assert.Equal(t, "u1", identity.ID)
			assert.Equal(t, crmauth.RoleViewer, identity.Role)
		})
	}
}

func TestHTTPAuthorityMeErrors(t *testing.T) {
	t.Run("rejected token", func(t *testing.T) {
		authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
		})
		_, err := authority.Me(context.Background(), "t1")
		assert.True(t, crmauth.IsUnauthorized(err))
	})

	t.Run("server down", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		authority := crmauth.NewHTTPAuthority(url, crmauth.WithAuthorityLogger(crmauth.NopLogger()))
		_, err := authority.Me(context.Background(), "t1")
		assert.True(t, crmauth.IsNetworkError(err))
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}, crmauth.WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
		defer close(release)

		_, err := authority.Me(context.Background(), "t1")
		assert.True(t, crmauth.IsNetworkError(err))
	})
}

func TestHTTPAuthorityPermissions(t *testing.T) {
	authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/permissions/list", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]string{
				{"resource": "customer", "action": "read"},
				{"resource": "deal", "action": "manage"},
			},
		})
	})

	perms, err := authority.Permissions(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []crmauth.Permission{
		{Resource: crmauth.ResourceCustomer, Action: crmauth.ActionRead},
		{Resource: crmauth.ResourceDeal, Action: crmauth.ActionManage},
	}, perms)
}

func TestHTTPAuthorityLogout(t *testing.T) {
	called := false
	authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/api/auth/logout", r.URL.Path)
		assert.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, authority.Logout(context.Background(), "t1"))
	assert.True(t, called)
}

func TestManagerAgainstHTTPAuthority(t *testing.T) {
	authority := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/me":
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	store := seededStore(t, "t1", ada())
	m, _ := newTestManager(t, store, authority)
	require.NoError(t, m.Init(context.Background()))

	assert.False(t, m.IsAuthenticated())
	assertCleared(t, store)
}
