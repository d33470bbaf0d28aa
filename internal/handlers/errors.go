package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/apperr"
)

func statusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument:
		return fiber.StatusBadRequest
	case apperr.CodeNotFound:
		return fiber.StatusNotFound
	case apperr.CodePermissionDenied:
		return fiber.StatusForbidden
	case apperr.CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case apperr.CodeUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err in the standard failure body.
func respondError(c *fiber.Ctx, err error) error {
	var ae *apperr.AppError
	if !errors.As(err, &ae) {
		ae = apperr.Internal("internal error", err).(*apperr.AppError)
	}
	return c.Status(statusOf(ae.Code)).JSON(fiber.Map{
		"success": false,
		"message": ae.Message,
		"code":    ae.Code,
	})
}

// ErrorHandler renders errors returned by middleware and handlers.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"success": false,
				"message": fe.Message,
			})
		}
		if apperr.CodeOf(err) == apperr.CodeUnknown {
			log.Error("unhandled error", "path", c.Path(), "err", err)
		}
		return respondError(c, err)
	}
}
