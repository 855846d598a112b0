package crmauth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

const sessionLocalsKey = "crm_session"

// Sessions builds one Manager per request on top of the request cookies.
// The managers it returns run no background work.
type Sessions struct {
	authority Authority
	codec     *CookieCodec
	cfg       Config
	logger    Logger
	sink      ActivitySink
	loadPerms bool
	opts      []ManagerOption
}

// SessionsOption customizes Sessions
type SessionsOption func(*Sessions)

// WithSessionsLogger sets the logger used by Sessions and its managers
func WithSessionsLogger(logger Logger) SessionsOption {
	return func(s *Sessions) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionsActivitySink sets the sink handed to every manager
func WithSessionsActivitySink(sink ActivitySink) SessionsOption {
	return func(s *Sessions) {
		s.sink = normalizeActivitySink(sink)
	}
}

// WithRequestPermissions loads the permission set while resolving the
// session so templates see dynamic grants.
func WithRequestPermissions(enabled bool) SessionsOption {
	return func(s *Sessions) {
		s.loadPerms = enabled
	}
}

// WithManagerOptions appends options applied to every request manager
func WithManagerOptions(opts ...ManagerOption) SessionsOption {
	return func(s *Sessions) {
		s.opts = append(s.opts, opts...)
	}
}

// NewSessions returns a per request manager factory.
func NewSessions(cfg Config, authority Authority, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		authority: authority,
		codec:     NewCookieCodec(cfg),
		cfg:       cfg,
		logger:    defLogger{},
		sink:      noopActivitySink{},
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForRequest returns the initialized manager for c, building it on first
// use within the request.
func (s *Sessions) ForRequest(c *fiber.Ctx) (*Manager, error) {
	if m, ok := c.Locals(sessionLocalsKey).(*Manager); ok && m != nil {
		return m, nil
	}

	opts := append([]ManagerOption{
		WithLogger(s.logger),
		WithActivitySink(s.sink),
		WithRevalidateInterval(0),
		WithPermissionPreload(false),
	}, s.opts...)

	m := NewManager(s.codec.Store(c), s.authority, opts...)
	if err := m.Init(c.UserContext()); err != nil {
		return nil, err
	}

	if s.loadPerms && m.IsAuthenticated() {
		if err := m.Permissions().LoadPermissions(c.UserContext()); err != nil {
			s.logger.Info("using role defaults for request permissions: %v", err)
		}
	}

	c.Locals(sessionLocalsKey, m)
	return m, nil
}

// SanitizeRedirect returns target when it is a same origin relative path,
// def otherwise.
func SanitizeRedirect(target, def string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return def
	}

	if !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") ||
		strings.HasPrefix(target, "/\\") ||
		strings.ContainsAny(target, "\r\n") {
		return def
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return def
	}
	return target
}

// LoginURL builds the login location carrying the sanitized return path.
func LoginURL(loginPath, param, returnTo string, expired bool) string {
	q := url.Values{}
	if r := SanitizeRedirect(returnTo, ""); r != "" && r != loginPath {
		q.Set(param, r)
	}
	if expired {
		q.Set("expired", "1")
	}
	if len(q) == 0 {
		return loginPath
	}
	return loginPath + "?" + q.Encode()
}

// ErrorHandler is a fiber error handler that renders rich errors as JSON
// with the status taken from their code.
func ErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = defLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
				WithCode(errors.CodeInternal)
		}

		logger.Error("request %s failed: %s %s", c.Path(), richErr.Message, print.MaybePrettyJSON(richErr.Metadata))

		status := richErr.Code
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}

		return c.Status(status).JSON(fiber.Map{
			"error":     richErr.Message,
			"text_code": richErr.TextCode,
			"category":  richErr.Category,
		})
	}
}
