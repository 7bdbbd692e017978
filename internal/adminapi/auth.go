package adminapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// newAuthMiddleware returns a Fiber middleware validating a bearer
// token against apiKey. An empty apiKey disables auth entirely (local
// development).
func newAuthMiddleware(apiKey string, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized, "missing_auth", "Unauthorized", "Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized, "invalid_auth_scheme", "Unauthorized", "Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token != apiKey {
			logger.Warn().Str("path", c.Path()).Msg("unauthorized admin API request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized, "invalid_api_key", "Unauthorized", "Invalid API key")
		}
		return c.Next()
	}
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
