package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"dripline/utils"
)

const (
	LocalCompanyID = "companyID"
	LocalUserID    = "userID"
)

// Protected authenticates the bearer token and stores the caller's company
// and user ids in the request locals.
func Protected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			// Browsers cannot set headers on a websocket upgrade.
			token = c.Cookies("access_token", c.Query("access_token"))
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authorization required",
				})
			}
		}

		claims, err := utils.ParseJWTToken(secret, token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals(LocalCompanyID, claims.CompanyID)
		c.Locals(LocalUserID, claims.UserID)
		return c.Next()
	}
}

// CompanyID returns the company set by Protected, or zero.
func CompanyID(c *fiber.Ctx) uint {
	id, _ := c.Locals(LocalCompanyID).(uint)
	return id
}
