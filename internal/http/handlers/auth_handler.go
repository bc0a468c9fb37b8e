package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"musicmarket/internal/log"
	"musicmarket/internal/services"
	"musicmarket/internal/validate"
)

const sessionCookie = "sid"

type AuthHandler struct {
	Auth *services.AuthService
	// SecureCookies marks the session cookie Secure; set behind HTTPS.
	SecureCookies bool
}

func (h *AuthHandler) setSession(c *fiber.Ctx, sid string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   h.SecureCookies,
		Expires:  expires,
	})
}

func (h *AuthHandler) LoginForm(c *fiber.Ctx) error {
	return render(c, "login", fiber.Map{"Err": ""})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	email := c.FormValue("email")
	pass := c.FormValue("password")
	fail := func(reason string) error {
		log.Security(c, "auth.login.fail", map[string]any{"email": email, "reason": reason})
		return renderStatus(c, fiber.StatusUnauthorized, "login", fiber.Map{"Err": "Invalid email or password"})
	}
	if _, ok := validate.Email(email); !ok {
		return fail("bad_format")
	}
	if !validate.Password(pass) {
		return fail("bad_password_format")
	}

	// A fresh sid on every login so a pre-set cookie cannot be carried into
	// an authenticated session.
	if old := c.Cookies(sessionCookie); old != "" {
		_ = h.Auth.Logout(c.UserContext(), old)
	}
	sid := uuid.NewString()
	u, err := h.Auth.Login(c.UserContext(), sid, email, pass)
	if err != nil {
		return fail("bad_credentials")
	}
	h.setSession(c, sid, time.Time{})
	c.Locals("user_id", u.ID)

	log.Audit(c, "auth.login.success", map[string]any{"email": email})
	return c.Redirect("/listings")
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if sid := c.Cookies(sessionCookie); sid != "" {
		if err := h.Auth.Logout(c.UserContext(), sid); err != nil {
			log.Error(c, "auth.logout.fail", err, nil)
		}
	}
	// Expire cookie
	h.setSession(c, "", time.Now().Add(-1*time.Hour))
	log.Audit(c, "auth.logout", nil)
	return c.Redirect("/login")
}
