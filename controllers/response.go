package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"lwie/services"
	"lwie/utils"
)

func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

// serviceError maps a service error onto an HTTP response. Unexpected
// errors are logged and reported before a generic 500 is returned.
func serviceError(c *fiber.Ctx, err error, errorType string, context map[string]interface{}) error {
	switch {
	case errors.Is(err, services.ErrInvalidPayment),
		errors.Is(err, services.ErrUnknownPlan),
		errors.Is(err, services.ErrInvalidCredit):
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrTransactionNotFound):
		return errorResponse(c, fiber.StatusNotFound, "Transaction not found")
	case errors.Is(err, services.ErrReceiptUnavailable):
		return errorResponse(c, fiber.StatusNotFound, "Receipt not found. Please start a new purchase.")
	case errors.Is(err, services.ErrQuotaExhausted):
		return errorResponse(c, fiber.StatusPaymentRequired, "You have used all your posts. Buy a plan to post more.")
	case errors.Is(err, services.ErrProviderUnavailable):
		utils.LogError(errorType, err, context)
		return errorResponse(c, fiber.StatusServiceUnavailable, "Payment provider is unavailable. Please try again.")
	case errors.Is(err, services.ErrProvider):
		utils.LogError(errorType, err, context)
		return errorResponse(c, fiber.StatusBadGateway, "Payment provider rejected the request")
	}

	utils.LogError(errorType, err, context)
	return errorResponse(c, fiber.StatusInternalServerError, "Internal server error")
}
