package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"lwie/models"
	"lwie/utils"
)

// Protected authenticates the request and stores the account in Locals
// under "user" and "userID".
func Protected(db *gorm.DB, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return unauthorized(c, fiber.StatusUnauthorized, "Invalid authorization format")
			}
			token = tokenParts[1]
		} else {
			// Fall back to cookie if header not present
			token = c.Cookies("access_token")
			if token == "" {
				return unauthorized(c, fiber.StatusUnauthorized, "Authorization required")
			}
		}

		claims, err := utils.ParseJWTToken(token, secret)
		if err != nil {
			return unauthorized(c, fiber.StatusUnauthorized, "Invalid or expired token")
		}

		var user models.User
		if err := db.WithContext(c.UserContext()).First(&user, claims.UserID).Error; err != nil {
			return unauthorized(c, fiber.StatusUnauthorized, "User not found")
		}

		if !user.IsActive {
			return unauthorized(c, fiber.StatusForbidden, "Account is not active")
		}

		// Logging out everywhere bumps the version
		if claims.TokenVersion != user.TokenVersion {
			return unauthorized(c, fiber.StatusUnauthorized, "Invalid token version")
		}

		c.Locals("user", &user)
		c.Locals("userID", user.ID)

		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}

// CurrentUser returns the account stored by Protected.
func CurrentUser(c *fiber.Ctx) (*models.User, bool) {
	user, ok := c.Locals("user").(*models.User)
	return user, ok && user != nil
}
