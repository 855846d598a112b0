package guard

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	crmauth "github.com/goliatone/go-crmauth"
)

// Session is the read side of a session manager the guard decides on.
type Session interface {
	State() crmauth.State
	IsAuthenticated() bool
	CurrentIdentity() *crmauth.Identity
}

// expirySource is implemented by sessions that can tell a forced logout
// apart from a plain missing session.
type expirySource interface {
	Snapshot() crmauth.Snapshot
}

// permissionSource is implemented by sessions that own a resolver.
type permissionSource interface {
	Permissions() *crmauth.PermissionResolver
}

// Config defines the config for the guard middleware
type Config struct {
	// Filter defines a function to skip the middleware
	Filter func(*fiber.Ctx) bool

	// Resolve returns the session for the request. Errors block the route.
	Resolve func(*fiber.Ctx) (Session, error)

	// Loading renders while the session state is not resolved
	Loading fiber.Handler

	// Unauthenticated overrides the login redirect
	Unauthenticated fiber.Handler

	// LoginPath defaults to /login
	LoginPath string

	// RedirectParam is the query key carrying the return path
	RedirectParam string

	// LocalsKey is where the identity is stored, defaults to crmauth.DefaultLocalsKey
	LocalsKey string

	// RetryAfter is sent with the loading response, in seconds
	RetryAfter string

	Logger crmauth.Logger
}

// ConfigDefault is the default config
var ConfigDefault = Config{
	LoginPath:     "/login",
	RedirectParam: "redirect",
	LocalsKey:     crmauth.DefaultLocalsKey,
	RetryAfter:    "1",
}

func configDefault(config ...Config) Config {
	if len(config) < 1 {
		panic("guard: Resolve is required")
	}

	cfg := config[0]
	if cfg.Resolve == nil {
		panic("guard: Resolve is required")
	}

	if cfg.LoginPath == "" {
		cfg.LoginPath = ConfigDefault.LoginPath
	}
	if cfg.RedirectParam == "" {
		cfg.RedirectParam = ConfigDefault.RedirectParam
	}
	if cfg.LocalsKey == "" {
		cfg.LocalsKey = ConfigDefault.LocalsKey
	}
	if cfg.RetryAfter == "" {
		cfg.RetryAfter = ConfigDefault.RetryAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = crmauth.NopLogger()
	}
	if cfg.Loading == nil {
		cfg.Loading = defaultLoading(cfg.RetryAfter)
	}
	if cfg.Unauthenticated == nil {
		cfg.Unauthenticated = loginRedirect(cfg)
	}
	return cfg
}

// New creates a fiber handler that only lets requests through when the
// session is authenticated. Unresolved sessions get the loading handler and
// unauthenticated ones are sent to the login page.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		session, err := cfg.Resolve(c)
		if err != nil || session == nil {
			if err != nil {
				cfg.Logger.Error("guard failed to resolve session for %s: %v", c.Path(), err)
			}
			return cfg.Unauthenticated(c)
		}

		state := session.State()
		if !state.Resolved() {
			return cfg.Loading(c)
		}

		if state != crmauth.StateAuthenticated || !session.IsAuthenticated() {
			if src, ok := session.(expirySource); ok && src.Snapshot().Expired {
				c.Locals(expiredLocalsKey, true)
			}
			return cfg.Unauthenticated(c)
		}

		identity := session.CurrentIdentity()
		if identity == nil {
			return cfg.Unauthenticated(c)
		}

		c.Locals(cfg.LocalsKey, identity)
		ctx := crmauth.WithIdentity(c.UserContext(), identity)
		if src, ok := session.(permissionSource); ok {
			ctx = crmauth.WithPermissions(ctx, src.Permissions())
		}
		c.SetUserContext(ctx)

		return c.Next()
	}
}

const expiredLocalsKey = "crm_session_expired"

func defaultLoading(retryAfter string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Set(fiber.HeaderRetryAfter, retryAfter)
		return c.Status(fiber.StatusOK).SendString("Loading...")
	}
}

func loginRedirect(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		target := crmauth.LoginURL(cfg.LoginPath, cfg.RedirectParam, c.OriginalURL(), c.Locals(expiredLocalsKey) == true)

		cfg.Logger.Info("session not authenticated, redirecting %s to login", c.Path())

		statusCode := http.StatusSeeOther
		if c.Method() == fiber.MethodGet {
			statusCode = http.StatusFound
		}
		return c.Redirect(target, statusCode)
	}
}
