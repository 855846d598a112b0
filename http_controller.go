package crmauth

import (
	"maps"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
)

// RegisterAuthRoutes mounts the login, registration and session endpoints.
func RegisterAuthRoutes(app fiber.Router, opts ...ControllerOption) *Controller {
	controller := NewController(opts...)

	app.Get(controller.Routes.Login, controller.LoginShow).Name("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).Name("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).Name("sign-out.get")

	app.Get(controller.Routes.Register, controller.RegistrationShow).Name("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).Name("register.post")

	app.Get(controller.Routes.Session, controller.SessionShow).Name("session.get")
	app.Get(controller.Routes.PermissionCheck, controller.PermissionCheck).Name("permissions.check")

	return controller
}

type ControllerRoutes struct {
	Login           string
	Logout          string
	Register        string
	Session         string
	PermissionCheck string
}

type ControllerViews struct {
	Login    string
	Register string
}

type Controller struct {
	Debug           bool
	Logger          Logger
	Sessions        *Sessions
	Routes          *ControllerRoutes
	Views           *ControllerViews
	RedirectParam   string
	DefaultRedirect string
}

type ControllerOption func(*Controller) *Controller

// WithControllerSessions sets the per request session factory
func WithControllerSessions(s *Sessions) ControllerOption {
	return func(c *Controller) *Controller {
		c.Sessions = s
		return c
	}
}

// WithControllerConfig applies the redirect settings from cfg
func WithControllerConfig(cfg Config) ControllerOption {
	return func(c *Controller) *Controller {
		if p := cfg.GetLoginPath(); p != "" {
			c.Routes.Login = p
		}
		if p := cfg.GetRedirectParam(); p != "" {
			c.RedirectParam = p
		}
		if d := cfg.GetDefaultRedirect(); d != "" {
			c.DefaultRedirect = d
		}
		return c
	}
}

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerDebug dumps payloads and results
func WithControllerDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:          defLogger{},
		RedirectParam:   "redirect",
		DefaultRedirect: "/dashboard",
		Routes: &ControllerRoutes{
			Login:           "/login",
			Logout:          "/logout",
			Register:        "/register",
			Session:         "/session",
			PermissionCheck: "/permissions/check",
		},
		Views: &ControllerViews{
			Login:    "login",
			Register: "register",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Sessions == nil {
		panic("Missing Sessions in auth controller...")
	}

	return c
}

func (a *Controller) LoginShow(c *fiber.Ctx) error {
	m, err := a.Sessions.ForRequest(c)
	if err == nil && m.IsAuthenticated() {
		return c.Redirect(a.returnPath(c), http.StatusFound)
	}

	return c.Render(a.Views.Login, a.view(c, m, fiber.Map{
		"errors":  nil,
		"record":  nil,
		"expired": c.Query("expired") == "1",
	}))
}

func (a *Controller) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Login, a.view(c, nil, fiber.Map{
			"record":     payload,
			"validation": "malformed request",
		}))
	}

	if a.Debug {
		a.Logger.Debug("login payload: %s", print.MaybePrettyJSON(fiber.Map{"email": payload.Email}))
	}

	m, err := a.Sessions.ForRequest(c)
	if err != nil {
		return err
	}

	if err := m.Login(c.UserContext(), payload.Email, payload.Password); err != nil {
		a.Logger.Info("login rejected for %s: %v", payload.Email, err)
		return c.Status(statusFor(err)).Render(a.Views.Login, a.view(c, m, fiber.Map{
			"record":     fiber.Map{"email": payload.Email},
			"validation": loginMessage(err),
			"errors":     errorFields(err),
		}))
	}

	return c.Redirect(a.returnPath(c), http.StatusSeeOther)
}

func (a *Controller) LogOut(c *fiber.Ctx) error {
	m, err := a.Sessions.ForRequest(c)
	if err != nil {
		a.Logger.Error("logout could not resolve session: %v", err)
		return c.Redirect(a.Routes.Login, http.StatusFound)
	}

	m.Logout(c.UserContext())
	return c.Redirect(a.Routes.Login, http.StatusFound)
}

func (a *Controller) RegistrationShow(c *fiber.Ctx) error {
	m, _ := a.Sessions.ForRequest(c)
	return c.Render(a.Views.Register, a.view(c, m, fiber.Map{
		"errors": nil,
		"record": nil,
	}))
}

func (a *Controller) RegistrationCreate(c *fiber.Ctx) error {
	payload := new(RegisterRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Register, a.view(c, nil, fiber.Map{
			"record":     payload,
			"validation": "malformed request",
		}))
	}

	m, err := a.Sessions.ForRequest(c)
	if err != nil {
		return err
	}

	identity, err := m.Register(c.UserContext(), *payload)
	if err != nil {
		a.Logger.Info("registration rejected for %s: %v", payload.Email, err)
		record := *payload
		record.Password = ""
		return c.Status(statusFor(err)).Render(a.Views.Register, a.view(c, m, fiber.Map{
			"record":     record,
			"validation": loginMessage(err),
			"errors":     errorFields(err),
		}))
	}

	if a.Debug {
		a.Logger.Debug("registered: %s", print.MaybePrettyJSON(identity))
	}

	return c.Redirect(a.DefaultRedirect, http.StatusSeeOther)
}

// SessionShow returns the session snapshot as JSON
func (a *Controller) SessionShow(c *fiber.Ctx) error {
	m, err := a.Sessions.ForRequest(c)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(m.Snapshot())
}

// PermissionCheck answers ?resource=&action=[&id=] for the current session
func (a *Controller) PermissionCheck(c *fiber.Ctx) error {
	m, err := a.Sessions.ForRequest(c)
	if err != nil {
		return err
	}

	if !m.IsAuthenticated() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"allowed": false,
			"error":   ErrUnauthorized.Message,
		})
	}

	resource := c.Query("resource")
	action := c.Query("action")
	if resource == "" || action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"allowed": false,
			"error":   "resource and action are required",
		})
	}

	resolver := m.Permissions()
	if err := resolver.LoadPermissions(c.UserContext()); err != nil {
		a.Logger.Info("permission check using role defaults: %v", err)
	}

	var ids []string
	if id := c.Query("id"); id != "" {
		ids = append(ids, id)
	}

	return c.JSON(fiber.Map{
		"resource": resource,
		"action":   action,
		"allowed":  resolver.Can(resource, action, ids...),
		"loaded":   resolver.Loaded(),
	})
}

func (a *Controller) returnPath(c *fiber.Ctx) string {
	target := c.Query(a.RedirectParam)
	if target == "" {
		target = c.FormValue(a.RedirectParam)
	}
	return SanitizeRedirect(target, a.DefaultRedirect)
}

func (a *Controller) view(c *fiber.Ctx, m *Manager, data fiber.Map) fiber.Map {
	out := fiber.Map{
		"redirect": SanitizeRedirect(c.Query(a.RedirectParam, c.FormValue(a.RedirectParam)), ""),
	}
	if m != nil {
		maps.Copy(out, TemplateHelpers(m))
	}
	maps.Copy(out, data)
	return out
}

func statusFor(err error) int {
	switch {
	case IsInvalidInput(err):
		return fiber.StatusBadRequest
	case IsInvalidCredentials(err):
		return fiber.StatusUnauthorized
	case IsNetworkError(err):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func loginMessage(err error) string {
	switch {
	case IsInvalidInput(err):
		return "Please fill in every field."
	case IsInvalidCredentials(err):
		return "Invalid email or password."
	case IsNetworkError(err):
		return "The server could not be reached, try again."
	default:
		return "Something went wrong."
	}
}

func errorFields(err error) map[string]any {
	richErr := richError(err)
	if richErr == nil || richErr.Metadata == nil {
		return nil
	}
	fields, _ := richErr.Metadata["fields"].(map[string]any)
	return fields
}
