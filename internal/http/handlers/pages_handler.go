package handlers

import (
	applog "musicmarket/internal/log"

	"github.com/gofiber/fiber/v2"
)

type PagesHandler struct{}

func (h *PagesHandler) Home(c *fiber.Ctx) error {
	return c.Redirect("/listings")
}

// Donated is where the checkout provider sends a payer after paying.
func (h *PagesHandler) Donated(c *fiber.Ctx) error {
	cl, _ := callerFrom(c)
	payer := c.Query("userId")
	fields := map[string]any{"payer_id": payer}
	if payer != "" && payer != cl.UserID {
		fields["mismatch"] = true
	}
	applog.Audit(c, "donation.success", fields)
	return render(c, "donated", nil)
}
