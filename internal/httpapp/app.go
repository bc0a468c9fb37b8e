// Package httpapp assembles the Fiber application: middleware, routes and
// error handling.
package httpapp

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"musicmarket/internal/config"
	"musicmarket/internal/events"
	"musicmarket/internal/http/handlers"
	applog "musicmarket/internal/log"
	"musicmarket/internal/metrics"
	"musicmarket/internal/payments"
	"musicmarket/internal/pictures"
	"musicmarket/internal/repos"
	"musicmarket/internal/services"
	"musicmarket/web"
)

const genericError = "Something went wrong. Please try again."

type Options struct {
	Config   config.Config
	DB       *sqlx.DB
	Pictures pictures.Store
	Events   events.Publisher
	// Donations is nil when payments are disabled.
	Donations *payments.Donations
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	// AccessLog receives one line per request; nil disables it.
	AccessLog io.Writer
}

func New(o Options) *fiber.App {
	cfg := o.Config
	if o.Logger == nil {
		o.Logger = applog.L()
	}

	userRepo := repos.NewUserRepo(o.DB)
	authSvc := &services.AuthService{Users: userRepo}
	listingSvc := services.NewListingService(repos.NewListingRepo(o.DB), o.Pictures, o.Events, cfg.MaxPictureBytes, o.Logger)
	deps := handlers.NewDeps(cfg, authSvc, listingSvc, o.Donations, o.Metrics)

	app := fiber.New(fiber.Config{
		Views:        web.Engine(),
		ErrorHandler: ErrorHandler,
		BodyLimit:    cfg.MaxBodyBytes,
	})

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	if o.AccessLog != nil {
		app.Use(logger.New(logger.Config{Output: o.AccessLog}))
	}
	app.Use(helmet.New())
	if o.Metrics != nil {
		app.Use(o.Metrics.Middleware())
	}
	// Attach user to context if logged in (for templates/logs)
	app.Use(handlers.LoadUser(authSvc))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimit,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			p := string(c.Request().URI().Path())
			return strings.HasPrefix(p, "/static/") || strings.HasPrefix(p, "/media/") || p == "/healthz"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.global.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).Render("notfound", fiber.Map{"Message": "Too many requests. Please slow down."})
		},
	}))
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		CookieSecure:   strings.HasPrefix(cfg.BaseURL, "https://"),
		ContextKey:     "csrf",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", map[string]any{"reason": err.Error()})
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Security check failed. Please refresh and try again."})
		},
	}))
	app.Use(func(c *fiber.Ctx) error {
		if tok, ok := c.Locals("csrf").(string); ok {
			c.Locals("CSRFToken", tok)
		}
		return c.Next()
	})

	// ---------- Static assets ----------
	app.Use("/static", filesystem.New(filesystem.Config{Root: web.Static()}))
	if disk, ok := o.Pictures.(*pictures.DiskStore); ok {
		app.Get("/media/*", mediaHandler(disk.Dir))
	}

	// ---------- Routes ----------
	app.Get("/", deps.PagesHandler.Home)
	app.Get("/login", deps.AuthHandler.LoginForm)
	app.Post("/login", limiter.New(limiter.Config{
		Max:        cfg.LoginRateLimit,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).Render("login", fiber.Map{"Err": "Too many attempts. Please try again later."})
		},
	}), deps.AuthHandler.Login)
	app.Post("/logout", deps.AuthHandler.Logout)

	requireUser := handlers.RequireUser(authSvc)
	lh := deps.ListingHandler
	listings := app.Group("/listings", requireUser)
	listings.Get("/", lh.Index)
	listings.Get("/new", lh.New)
	listings.Post("/", lh.Create)
	listings.Get("/:id/edit", lh.Edit)
	listings.Get("/:id", lh.Show)
	listings.Patch("/:id", lh.Update)
	listings.Put("/:id", lh.Update)
	// HTML forms can only POST.
	listings.Post("/:id", lh.Update)
	listings.Delete("/:id", lh.Destroy)
	listings.Post("/:id/delete", lh.Destroy)

	app.Get("/pages/donated", requireUser, deps.PagesHandler.Donated)

	// Health, metrics & 404
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	if o.Metrics != nil && cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(o.Metrics.Registry, promhttp.HandlerOpts{})))
	}
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).Render("notfound", fiber.Map{"Message": "Page not found"})
	})

	return app
}

// ErrorHandler renders the friendly error page. Client errors keep their
// message; anything else is logged and replaced with a generic one.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := genericError
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		code, msg = fe.Code, fe.Message
	}
	if code >= fiber.StatusInternalServerError {
		applog.Error(c, "server.error", err, nil)
	} else {
		applog.Info(c, "request.error", map[string]any{"code": code, "message": msg})
	}
	if rerr := c.Status(code).Render("notfound", fiber.Map{"Message": msg}); rerr != nil {
		return c.Status(code).SendString(msg)
	}
	return nil
}

// mediaHandler serves uploaded pictures from dir, refusing traversal.
func mediaHandler(dir string) fiber.Handler {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return func(c *fiber.Ctx) error {
		path := c.Params("*")
		rawLower := strings.ToLower(path)
		// Block encoded traversal attempts as well as raw .. or null bytes
		if strings.Contains(rawLower, "..") || strings.Contains(rawLower, "%2e") || strings.Contains(rawLower, "\x00") {
			applog.Security(c, "media.traversal.block", map[string]any{"path": path})
			return c.SendStatus(fiber.StatusNotFound)
		}
		clean := filepath.Clean(path)
		if clean == "." || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
			applog.Security(c, "media.traversal.block", map[string]any{"path": path})
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.SendFile(filepath.Join(dir, clean), true)
	}
}
