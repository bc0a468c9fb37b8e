package handlers

import (
	"musicmarket/internal/domain"
	applog "musicmarket/internal/log"
	"musicmarket/internal/services"

	"github.com/gofiber/fiber/v2"
)

// LoadUser attaches the session user, if any, for templates and logs.
func LoadUser(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if sid := c.Cookies(sessionCookie); sid != "" {
			if u, err := auth.CurrentUser(c.UserContext(), sid); err == nil && u != nil {
				c.Locals("user", u)
				c.Locals("user_id", u.ID)
			}
		}
		return c.Next()
	}
}

// RequireUser enforces that a user is logged in; otherwise redirect to login.
func RequireUser(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies(sessionCookie)
		if sid == "" {
			return c.Redirect("/login")
		}
		u, err := auth.CurrentUser(c.UserContext(), sid)
		if err != nil || u == nil {
			applog.Security(c, "access.denied.session", nil)
			return c.Redirect("/login")
		}
		c.Locals("user", u)
		c.Locals("user_id", u.ID)
		return c.Next()
	}
}

// callerFrom builds the request-scoped identity from the authenticated user.
func callerFrom(c *fiber.Ctx) (services.Caller, bool) {
	u, ok := c.Locals("user").(*domain.User)
	if !ok || u == nil {
		return services.Caller{}, false
	}
	return services.Caller{UserID: u.ID, Email: u.Email}, true
}
