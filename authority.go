package crmauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuthResult is what the authority returns for login and registration
type AuthResult struct {
	Token    string    `json:"token"`
	Identity *Identity `json:"user"`
}

// RegisterInput holds the fields needed to create an identity and its
// organization.
type RegisterInput struct {
	Name             string `json:"name" form:"name"`
	Email            string `json:"email" form:"email"`
	Password         string `json:"password" form:"password"`
	OrganizationName string `json:"organizationName" form:"organization_name"`
}

// Authority is the remote REST API that owns authentication and
// authorization decisions.
type Authority interface {
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Register(ctx context.Context, input RegisterInput) (*AuthResult, error)
	Me(ctx context.Context, token string) (*Identity, error)
	Logout(ctx context.Context, token string) error
	Permissions(ctx context.Context, token string) ([]Permission, error)
}

const (
	pathLogin       = "/auth/login"
	pathRegister    = "/auth/register"
	pathMe          = "/auth/me"
	pathLogout      = "/auth/logout"
	pathPermissions = "/permissions/list"
)

var _ Authority = &HTTPAuthority{}

// HTTPAuthority talks to the CRM API over JSON/HTTP
type HTTPAuthority struct {
	baseURL    string
	httpClient *http.Client
	logger     Logger
}

// HTTPAuthorityOption customizes the client
type HTTPAuthorityOption func(*HTTPAuthority)

// WithHTTPClient overrides the http.Client used for every call.
func WithHTTPClient(client *http.Client) HTTPAuthorityOption {
	return func(a *HTTPAuthority) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithAuthorityLogger sets the logger used for request tracing.
func WithAuthorityLogger(logger Logger) HTTPAuthorityOption {
	return func(a *HTTPAuthority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewHTTPAuthority creates a client for the API rooted at baseURL.
func NewHTTPAuthority(baseURL string, opts ...HTTPAuthorityOption) *HTTPAuthority {
	a := &HTTPAuthority{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		logger:     defLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewHTTPAuthorityFromConfig builds the client from a Config.
func NewHTTPAuthorityFromConfig(cfg Config, opts ...HTTPAuthorityOption) *HTTPAuthority {
	base := []HTTPAuthorityOption{
		WithHTTPClient(&http.Client{Timeout: cfg.GetRequestTimeout()}),
	}
	return NewHTTPAuthority(cfg.GetBaseURL(), append(base, opts...)...)
}

func (a *HTTPAuthority) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	var env authEnvelope
	if err := a.do(ctx, http.MethodPost, pathLogin, "", body, &env); err != nil {
		return nil, credentialError(err)
	}
	return env.result()
}

func (a *HTTPAuthority) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	var env authEnvelope
	if err := a.do(ctx, http.MethodPost, pathRegister, "", input, &env); err != nil {
		return nil, credentialError(err)
	}
	return env.result()
}

func (a *HTTPAuthority) Me(ctx context.Context, token string) (*Identity, error) {
	var env userEnvelope
	if err := a.do(ctx, http.MethodGet, pathMe, token, nil, &env); err != nil {
		return nil, err
	}

	identity := env.identity()
	if identity == nil || identity.ID == "" {
		return nil, newKind(ErrNetwork, "authority returned no user", map[string]any{
			"path": pathMe,
		})
	}
	return identity, nil
}

func (a *HTTPAuthority) Logout(ctx context.Context, token string) error {
	return a.do(ctx, http.MethodGet, pathLogout, token, nil, nil)
}

func (a *HTTPAuthority) Permissions(ctx context.Context, token string) ([]Permission, error) {
	var env struct {
		Data []Permission `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, pathPermissions, token, nil, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return []Permission{}, nil
	}
	return env.Data, nil
}

// statusError keeps the HTTP status so callers can classify it.
type statusError struct {
	Status  int
	Path    string
	Message string
}

func (e *statusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned %d: %s", e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s returned %d", e.Path, e.Status)
}

func (a *HTTPAuthority) do(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return wrapKind(err, ErrInvalidInput, "failed to encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return wrapKind(err, ErrInvalidInput, "failed to build request")
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Debug("authority %s %s failed request_id=%s: %v", method, path, requestID, err)
		return transportError(err, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err, path)
	}

	a.logger.Debug("authority %s %s status=%d request_id=%s took=%s", method, path, resp.StatusCode, requestID, time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(&statusError{
			Status:  resp.StatusCode,
			Path:    path,
			Message: apiErrorMessage(data),
		})
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return wrapKind(err, ErrNetwork, "failed to decode authority response")
	}
	return nil
}

func transportError(err error, path string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrapKind(err, ErrNetwork, "authority request timed out: "+path)
	}
	return wrapKind(err, ErrNetwork, "authority request failed: "+path)
}

func classifyStatus(err *statusError) error {
	switch {
	case err.Status == http.StatusUnauthorized:
		return wrapKind(err, ErrUnauthorized, "")
	case err.Status >= 500:
		return wrapKind(err, ErrNetwork, "")
	default:
		return err
	}
}

// credentialError maps login/registration rejections to
// ErrInvalidCredentials while keeping network failures as they are.
func credentialError(err error) error {
	if IsNetworkError(err) {
		return err
	}

	var se *statusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
			return newKind(ErrInvalidCredentials, "", map[string]any{
				"status": se.Status,
				"reason": se.Message,
			})
		}
	}

	if IsUnauthorized(err) {
		return newKind(ErrInvalidCredentials, "", nil)
	}
	return wrapKind(err, ErrNetwork, "")
}

type authEnvelope struct {
	Token string    `json:"token"`
	User  *Identity `json:"user"`
	Data  *struct {
		Token string    `json:"token"`
		User  *Identity `json:"user"`
	} `json:"data"`
}

func (e authEnvelope) result() (*AuthResult, error) {
	res := &AuthResult{Token: e.Token, Identity: e.User}
	if e.Data != nil {
		if res.Token == "" {
			res.Token = e.Data.Token
		}
		if res.Identity == nil {
			res.Identity = e.Data.User
		}
	}

	if res.Token == "" || res.Identity == nil || res.Identity.ID == "" {
		return nil, newKind(ErrNetwork, "authority response is missing token or user", nil)
	}
	return res, nil
}

type userEnvelope struct {
	User *Identity      `json:"user"`
	Data *userEnvelopeD `json:"data"`
}

type userEnvelopeD struct {
	Identity
	User *Identity `json:"user"`
}

func (e userEnvelope) identity() *Identity {
	if e.User != nil {
		return e.User
	}
	if e.Data == nil {
		return nil
	}
	if e.Data.User != nil {
		return e.Data.User
	}
	id := e.Data.Identity
	return &id
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func apiErrorMessage(body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.Error != "" {
			return apiErr.Error
		}
	}
	return strings.TrimSpace(string(body))
}
