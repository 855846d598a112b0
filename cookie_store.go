package crmauth

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/securecookie"
)

var _ CredentialStore = &CookieCredentialStore{}

// CookieCodec signs and encrypts the identity cookie. One codec is shared
// by every request of a server.
type CookieCodec struct {
	sc           *securecookie.SecureCookie
	tokenName    string
	identityName string
	secure       bool
	scriptable   bool
	ttl          time.Duration
}

// NewCookieCodec builds a codec from cfg. An empty hash key generates a
// random one, which invalidates identity cookies on restart.
func NewCookieCodec(cfg Config) *CookieCodec {
	hashKey := []byte(cfg.GetCookieHashKey())
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
	}

	var blockKey []byte
	if k := cfg.GetCookieBlockKey(); k != "" {
		blockKey = []byte(k)
	}

	ttl := cfg.GetCredentialTTL()
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(ttl.Seconds()))

	return &CookieCodec{
		sc:           sc,
		tokenName:    cfg.GetTokenCookieName(),
		identityName: cfg.GetIdentityCookieName(),
		secure:       cfg.GetCookieSecure(),
		scriptable:   cfg.GetTokenScriptable(),
		ttl:          ttl,
	}
}

// Store binds the codec to a single request
func (cc *CookieCodec) Store(c *fiber.Ctx) *CookieCredentialStore {
	return &CookieCredentialStore{
		codec: cc,
		c:     c,
		now:   time.Now,
	}
}

// CookieCredentialStore persists the token and the identity as two
// cookies of the bound request. The token cookie is HTTPOnly and the
// identity cookie is signed so it cannot be edited client side.
type CookieCredentialStore struct {
	codec *CookieCodec
	c     *fiber.Ctx
	now   func() time.Time

	// values written during this request win over the request cookies
	written  bool
	token    string
	identity *Identity
}

func (s *CookieCredentialStore) SetCredential(ctx context.Context, token string, identity *Identity) error {
	if token == "" || identity == nil {
		return newKind(ErrInvalidInput, "token and identity are required", nil)
	}

	encoded, err := s.codec.sc.Encode(s.codec.identityName, identity)
	if err != nil {
		return wrapKind(err, ErrInconsistentState, "failed to encode identity cookie")
	}

	expires := CredentialExpiry(token, s.now(), s.codec.ttl)
	s.setCookie(s.codec.tokenName, token, expires, !s.codec.scriptable)
	s.setCookie(s.codec.identityName, encoded, expires, true)

	s.written = true
	s.token = token
	s.identity = identity.Clone()
	return nil
}

func (s *CookieCredentialStore) ClearCredential(ctx context.Context) error {
	s.delCookie(s.codec.tokenName)
	s.delCookie(s.codec.identityName)

	s.written = true
	s.token = ""
	s.identity = nil
	return nil
}

func (s *CookieCredentialStore) Token(ctx context.Context) (string, bool, error) {
	if s.written {
		return s.token, s.token != "", nil
	}

	token := s.c.Cookies(s.codec.tokenName)
	if token == "" {
		return "", false, nil
	}

	if TokenExpired(token, s.now()) {
		return "", false, nil
	}
	return token, true, nil
}

func (s *CookieCredentialStore) CachedIdentity(ctx context.Context) (*Identity, bool, error) {
	if s.written {
		return s.identity.Clone(), s.identity != nil, nil
	}

	raw := s.c.Cookies(s.codec.identityName)
	if raw == "" {
		return nil, false, nil
	}

	identity := &Identity{}
	if err := s.codec.sc.Decode(s.codec.identityName, raw, identity); err != nil {
		return nil, false, wrapKind(err, ErrInconsistentState, "identity cookie failed verification")
	}
	return identity, true, nil
}

func (s *CookieCredentialStore) setCookie(name, value string, expires time.Time, httpOnly bool) {
	s.c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: httpOnly,
		Secure:   s.codec.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (s *CookieCredentialStore) delCookie(name string) {
	s.c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  s.now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   s.codec.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
