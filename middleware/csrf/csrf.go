package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

var (
	ErrTokenMismatch = errors.New("CSRF token mismatch")
	ErrTokenMissing  = errors.New("CSRF token missing")
	ErrTokenExpired  = errors.New("CSRF token expired")
)

// DefaultTokenLength is the default nonce length in bytes
const DefaultTokenLength = 32

// DefaultContextKey is the default locals key for the token
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// DefaultCookieName holds the browser binding id
const DefaultCookieName = "csrf_sid"

// Config defines the configuration for CSRF middleware
type Config struct {
	// Filter defines a function to skip the middleware
	Filter func(*fiber.Ctx) bool

	// TokenLength is the nonce length in bytes
	TokenLength int

	// ContextKey is the locals key holding the token. The hidden input
	// is stored under ContextKey + "_field".
	ContextKey string

	FormFieldName string
	HeaderName    string

	// CookieName is the cookie binding tokens to one browser
	CookieName   string
	CookieSecure bool

	ErrorHandler fiber.ErrorHandler

	// SafeMethods are not validated
	SafeMethods []string

	// Expiration bounds the token age
	Expiration time.Duration

	// SecureKey signs tokens, at least 32 bytes. A random key is used
	// when empty, which invalidates tokens on restart.
	SecureKey []byte
}

// New creates a stateless CSRF middleware. Every request gets a fresh
// signed token in locals and unsafe methods must echo one back through
// the form field or header.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		sid, err := browserID(c, cfg)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		now := time.Now().UTC()
		token, err := generateToken(cfg, sid, now)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, token)
		c.Locals(cfg.ContextKey+"_field", `<input type="hidden" name="`+cfg.FormFieldName+`" value="`+token+`">`)

		if slices.Contains(cfg.SafeMethods, strings.ToUpper(c.Method())) {
			return c.Next()
		}

		if err := validateToken(cfg, extractToken(c, cfg), sid, now); err != nil {
			return cfg.ErrorHandler(c, err)
		}

		return c.Next()
	}
}

// TokenFromLocals returns the token the middleware stored for c
func TokenFromLocals(c *fiber.Ctx, key string) string {
	if key == "" {
		key = DefaultContextKey
	}
	token, _ := c.Locals(key).(string)
	return token
}

func browserID(c *fiber.Ctx, cfg Config) (string, error) {
	if sid := c.Cookies(cfg.CookieName); validID(sid) {
		return sid, nil
	}

	raw := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	sid := hex.EncodeToString(raw)

	c.Cookie(&fiber.Cookie{
		Name:     cfg.CookieName,
		Value:    sid,
		Path:     "/",
		HTTPOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return sid, nil
}

func validID(sid string) bool {
	if len(sid) != 32 {
		return false
	}
	_, err := hex.DecodeString(sid)
	return err == nil
}

func generateToken(cfg Config, sid string, now time.Time) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%d:%s:%s", now.Unix(), hex.EncodeToString(nonce), sid)
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateToken(cfg Config, token, sid string, now time.Time) error {
	if token == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(parts[3])
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(sid)) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 && now.After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}

	return nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func extractToken(c *fiber.Ctx, cfg Config) string {
	if token := c.Get(cfg.HeaderName); token != "" {
		return token
	}
	return c.FormValue(cfg.FormFieldName)
}

// configDefault returns a default config
func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions, fiber.MethodTrace}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	cfg.SecureKey = initializeSecureKey(cfg.SecureKey)

	return cfg
}

func defaultErrorHandler(c *fiber.Ctx, err error) error {
	switch err {
	case ErrTokenMissing:
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case ErrTokenMismatch, ErrTokenExpired:
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "CSRF validation error")
	}
}

func initializeSecureKey(current []byte) []byte {
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(current)))
		}
		return current
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}
