package crmauth

import "time"

const (
	// DefaultCredentialTTL is how long a persisted token is kept client side
	DefaultCredentialTTL = 30 * 24 * time.Hour
	// DefaultRevalidateInterval is the periodic /auth/me cadence
	DefaultRevalidateInterval = 5 * time.Minute
	// DefaultRequestTimeout bounds every call to the authority
	DefaultRequestTimeout = 10 * time.Second
)

var _ Config = Options{}

// Options is the default Config implementation. Field tags are read by
// koanf when the binary loads configuration.
type Options struct {
	BaseURL            string        `koanf:"base_url" json:"base_url"`
	RequestTimeout     time.Duration `koanf:"request_timeout" json:"request_timeout"`
	RevalidateInterval time.Duration `koanf:"revalidate_interval" json:"revalidate_interval"`
	CredentialTTL      time.Duration `koanf:"credential_ttl" json:"credential_ttl"`
	TokenCookieName    string        `koanf:"token_cookie" json:"token_cookie"`
	IdentityCookieName string        `koanf:"identity_cookie" json:"identity_cookie"`
	CookieSecure       bool          `koanf:"cookie_secure" json:"cookie_secure"`
	// TokenScriptable drops HttpOnly from the token cookie so page scripts
	// can read the bearer token. The identity cookie stays HttpOnly.
	TokenScriptable    bool          `koanf:"token_scriptable" json:"token_scriptable"`
	CookieHashKey      string        `koanf:"cookie_hash_key" json:"-"`
	CookieBlockKey     string        `koanf:"cookie_block_key" json:"-"`
	LoginPath          string        `koanf:"login_path" json:"login_path"`
	RedirectParam      string        `koanf:"redirect_param" json:"redirect_param"`
	DefaultRedirect    string        `koanf:"default_redirect" json:"default_redirect"`
}

// DefaultOptions returns the values used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		BaseURL:            "http://localhost:3001/api",
		RequestTimeout:     DefaultRequestTimeout,
		RevalidateInterval: DefaultRevalidateInterval,
		CredentialTTL:      DefaultCredentialTTL,
		TokenCookieName:    "token",
		IdentityCookieName: "crm_user",
		CookieSecure:       true,
		LoginPath:          "/login",
		RedirectParam:      "redirect",
		DefaultRedirect:    "/dashboard",
	}
}

func (o Options) GetBaseURL() string { return o.BaseURL }

func (o Options) GetRequestTimeout() time.Duration {
	if o.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return o.RequestTimeout
}

func (o Options) GetRevalidateInterval() time.Duration {
	if o.RevalidateInterval <= 0 {
		return DefaultRevalidateInterval
	}
	return o.RevalidateInterval
}

func (o Options) GetCredentialTTL() time.Duration {
	if o.CredentialTTL <= 0 {
		return DefaultCredentialTTL
	}
	return o.CredentialTTL
}

func (o Options) GetTokenCookieName() string {
	if o.TokenCookieName == "" {
		return "token"
	}
	return o.TokenCookieName
}

func (o Options) GetIdentityCookieName() string {
	if o.IdentityCookieName == "" {
		return "crm_user"
	}
	return o.IdentityCookieName
}

func (o Options) GetCookieSecure() bool     { return o.CookieSecure }
func (o Options) GetTokenScriptable() bool  { return o.TokenScriptable }
func (o Options) GetCookieHashKey() string  { return o.CookieHashKey }
func (o Options) GetCookieBlockKey() string { return o.CookieBlockKey }

func (o Options) GetLoginPath() string {
	if o.LoginPath == "" {
		return "/login"
	}
	return o.LoginPath
}

func (o Options) GetRedirectParam() string {
	if o.RedirectParam == "" {
		return "redirect"
	}
	return o.RedirectParam
}

func (o Options) GetDefaultRedirect() string {
	if o.DefaultRedirect == "" {
		return "/"
	}
	return o.DefaultRedirect
}
