package controller

import (
	"github.com/gofiber/fiber/v2"

	"lwie/middleware"
	"lwie/services"
)

type QuotaController struct {
	quota *services.QuotaService
}

func NewQuotaController(quota *services.QuotaService) *QuotaController {
	return &QuotaController{quota: quota}
}

func (qc *QuotaController) GetQuota(c *fiber.Ctx) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Authorization required")
	}

	status, err := qc.quota.GetStatus(c.UserContext(), user.ID)
	if err != nil {
		return serviceError(c, err, "quota_read_failed", map[string]interface{}{"user_id": user.ID})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"quota":   status,
	})
}
