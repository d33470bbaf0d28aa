package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/utils"
)

// AttachJWTLocals copies the verified claims into c.Locals: "userId" as a
// uuid.UUID and "role" as a models.Role.
func AttachJWTLocals() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok || token == nil {
			return fiber.ErrUnauthorized
		}
		claims, ok := token.Claims.(*utils.Claims)
		if !ok {
			return fiber.ErrUnauthorized
		}

		uid, err := uuid.Parse(strings.TrimSpace(claims.UserID))
		if err != nil || uid == uuid.Nil {
			return fiber.ErrUnauthorized
		}

		c.Locals("userId", uid)
		c.Locals("role", models.Role(strings.ToLower(strings.TrimSpace(claims.Role))))
		return c.Next()
	}
}
