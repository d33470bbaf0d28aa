package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/realtime"
)

// RequireUpgrade rejects plain HTTP requests to websocket routes.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebSocketHandler streams the caller's live events. Connecting marks the
// user online; closing the last connection marks them offline.
func (h *ChatHandler) WebSocketHandler(c *websocket.Conn) {
	userID, ok := c.Locals("userId").(uuid.UUID)
	if !ok {
		c.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := h.Svc.UpdateUserStatus(ctx, userID, true); err != nil {
		h.Log.Warn("ws: mark online failed", "user_id", userID, "err", err)
	}
	h.Log.Info("ws: connected", "user_id", userID)

	sub := h.Svc.SubscribeToIncoming(ctx, userID)
	realtime.Serve(ctx, c, sub, h.Log)

	if !h.Svc.IsConnected(userID) {
		if _, err := h.Svc.UpdateUserStatus(context.Background(), userID, false); err != nil {
			h.Log.Warn("ws: mark offline failed", "user_id", userID, "err", err)
		}
	}
	h.Log.Info("ws: disconnected", "user_id", userID)
}
