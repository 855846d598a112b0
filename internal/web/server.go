package web

import (
	"context"
	"embed"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/template/django/v3"
	crmauth "github.com/goliatone/go-crmauth"
	"github.com/goliatone/go-crmauth/activitymap"
	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/goliatone/go-crmauth/middleware/csrf"
	"github.com/goliatone/go-crmauth/middleware/guard"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed views/*.html
var viewsFS embed.FS

// Server serves the CRM pages behind the session guard.
type Server struct {
	cfg       *config.Config
	authority crmauth.Authority
	logger    crmauth.Logger
	registry  *prometheus.Registry
	accessLog io.Writer
	sessions  *crmauth.Sessions
	app       *fiber.App
}

type Option func(*Server)

func WithLogger(logger crmauth.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry sets the registry session metrics are exposed from
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithAccessLog sets where request lines are written, nil disables them
func WithAccessLog(w io.Writer) Option {
	return func(s *Server) {
		s.accessLog = w
	}
}

func New(cfg *config.Config, authority crmauth.Authority, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		authority: authority,
		logger:    FiberLogger{},
		registry:  prometheus.NewRegistry(),
		accessLog: os.Stdout,
	}

	for _, opt := range opts {
		opt(s)
	}

	views, err := fs.Sub(viewsFS, "views")
	if err != nil {
		return nil, err
	}

	metrics, err := crmauth.NewMetricsSink(s.registry)
	if err != nil {
		return nil, err
	}

	s.sessions = crmauth.NewSessions(cfg.Auth, authority,
		crmauth.WithSessionsLogger(s.logger),
		crmauth.WithSessionsActivitySink(crmauth.MultiActivitySink{metrics, logSink(s.logger)}),
		crmauth.WithRequestPermissions(cfg.Server.LoadPermissions),
		crmauth.WithManagerOptions(crmauth.WithDebug(cfg.Debug)),
	)

	s.app = fiber.New(fiber.Config{
		Views:                 django.NewFileSystem(http.FS(views), ".html"),
		ErrorHandler:          crmauth.ErrorHandler(s.logger),
		PassLocalsToViews:     true,
		DisableStartupMessage: true,
	})

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	app := s.app

	app.Use(recover.New())
	app.Use(requestid.New())
	if s.accessLog != nil {
		app.Use(logger.New(logger.Config{Output: s.accessLog}))
	}

	if path := s.cfg.Server.MetricsPath; path != "" {
		app.Get(path, adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	app.Use(csrf.New(csrf.Config{
		SecureKey:    csrfKey(s.cfg.Auth.GetCookieHashKey()),
		CookieSecure: s.cfg.Auth.GetCookieSecure(),
	}))
	csrf.RegisterRoutes(app)

	crmauth.RegisterAuthRoutes(app,
		crmauth.WithControllerSessions(s.sessions),
		crmauth.WithControllerConfig(s.cfg.Auth),
		crmauth.WithControllerLogger(s.logger),
		crmauth.WithControllerDebug(s.cfg.Debug),
	)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect(s.cfg.Auth.GetDefaultRedirect(), http.StatusFound)
	})

	// everything registered below requires an authenticated session
	app.Use(guard.New(guard.Config{
		Resolve:       s.resolve,
		Loading:       s.loading,
		LoginPath:     s.cfg.Auth.GetLoginPath(),
		RedirectParam: s.cfg.Auth.GetRedirectParam(),
		Logger:        s.logger,
	}))

	app.Get("/dashboard", s.render("dashboard"))
	app.Get("/settings",
		guard.RequirePermission(crmauth.ResourceSetting, crmauth.ActionManage),
		s.render("settings"),
	)
}

// App exposes the fiber app, mostly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) resolve(c *fiber.Ctx) (guard.Session, error) {
	m, err := s.sessions.ForRequest(c)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Server) loading(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set(fiber.HeaderRetryAfter, "1")
	return c.Render("loading", fiber.Map{"retry_after": 1})
}

func (s *Server) render(view string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		m, err := s.sessions.ForRequest(c)
		if err != nil {
			return err
		}
		return c.Render(view, fiber.Map(crmauth.TemplateHelpers(m)))
	}
}

// csrfKey reuses the cookie hash key when it is long enough to sign tokens
func csrfKey(hashKey string) []byte {
	if len(hashKey) < 32 {
		return nil
	}
	return []byte(hashKey)
}

func logSink(logger crmauth.Logger) crmauth.ActivitySink {
	return crmauth.ActivitySinkFunc(func(_ context.Context, event crmauth.ActivityEvent) error {
		logger.Debug("session activity: %s", print.MaybePrettyJSON(activitymap.Normalize(event)))
		return nil
	})
}
