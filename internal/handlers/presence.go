package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/apperr"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/services/chat"
)

type PresenceHandler struct {
	Svc *chat.Service
}

type updatePresenceRequest struct {
	Online *bool `json:"online" validate:"required"`
}

// UpdateStatus records the caller's own online state.
func (h *PresenceHandler) UpdateStatus(c *fiber.Ctx) error {
	me, err := getUserUUID(c)
	if err != nil {
		return respondError(c, apperr.ErrUnauthenticated)
	}

	var req updatePresenceRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, err)
	}

	st, err := h.Svc.UpdateUserStatus(c.UserContext(), me, *req.Online)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": st})
}

func (h *PresenceHandler) GetStatus(c *fiber.Ctx) error {
	userID, err := paramUUID(c, "userId", apperr.ErrInvalidUserID)
	if err != nil {
		return respondError(c, err)
	}

	st, err := h.Svc.GetUserStatus(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": st})
}
