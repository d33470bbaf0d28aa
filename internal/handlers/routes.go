package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/middleware"
)

// Routes mounts the chat API on app.
func Routes(app *fiber.App, chatH *ChatHandler, presenceH *PresenceHandler, jwtSecret string) {
	auth := []fiber.Handler{
		middleware.JWTAuth(jwtSecret),
		middleware.AttachJWTLocals(),
		middleware.RequireRoles(middleware.ChatRoles...),
	}

	api := app.Group("/api", auth...)

	chat := api.Group("/chat")
	chat.Post("/conversations", chatH.CreateOrGetConversation)
	chat.Get("/conversations", chatH.GetConversations)
	chat.Get("/conversations/:id", chatH.GetConversation)
	chat.Get("/conversations/:id/messages", chatH.GetMessages)
	chat.Post("/conversations/:id/messages", chatH.SendMessage)
	chat.Patch("/conversations/:id/read", chatH.MarkAsRead)
	chat.Get("/unread", chatH.GetUnreadTotal)

	api.Put("/presence", presenceH.UpdateStatus)
	api.Get("/presence/:userId", presenceH.GetStatus)

	// browsers cannot set headers on websocket upgrades; the token comes
	// from the cookie or the token query parameter
	ws := append([]fiber.Handler{RequireUpgrade}, auth...)
	ws = append(ws, websocket.New(chatH.WebSocketHandler))
	app.Get("/ws/chat", ws...)
}
