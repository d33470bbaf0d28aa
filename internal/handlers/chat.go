package handlers

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/apperr"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/services/chat"
)

type ChatHandler struct {
	Svc *chat.Service
	Log *slog.Logger
}

func NewChatHandler(svc *chat.Service, log *slog.Logger) *ChatHandler {
	return &ChatHandler{Svc: svc, Log: log}
}

type createConversationRequest struct {
	PeerID string `json:"peer_id" validate:"required,uuid"`
}

type sendMessageRequest struct {
	Text        string `json:"text" validate:"required"`
	ClientToken string `json:"client_token" validate:"omitempty,max=64"`
}

// conversationFor loads the conversation in :id and checks the caller is
// one of its participants.
func (h *ChatHandler) conversationFor(c *fiber.Ctx, userID uuid.UUID) (models.Conversation, error) {
	convID, err := paramUUID(c, "id", apperr.ErrInvalidConversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	conv, err := h.Svc.GetConversation(c.UserContext(), convID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, apperr.ErrNotParticipant
	}
	return conv, nil
}

// CreateOrGetConversation opens the conversation with peer_id, creating it on
// first contact.
func (h *ChatHandler) CreateOrGetConversation(c *fiber.Ctx) error {
	me, err := getUserUUID(c)
	if err != nil {
		return respondError(c, apperr.ErrUnauthenticated)
	}

	var req createConversationRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, err)
	}
	peerID := uuid.MustParse(req.PeerID)

	conv, created, err := h.Svc.GetOrCreateConversation(c.UserContext(), me, peerID)
	if err != nil {
		return respondError(c, err)
	}
	summary, err := h.Svc.GetConversationForUser(c.UserContext(), conv.ID, me)
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"created": created,
		"data":    summary,
	})
}

// GetConversations lists the caller's conversations, filtered by ?q=.
func (h *ChatHandler) GetConversations(c *fiber.Ctx) error {
	me, err := getUserUUID(c)
	if err != nil {
		return respondError(c, apperr.ErrUnauthenticated)
	}

	list, err := h.Svc.SearchConversations(c.UserContext(), me, c.Query("q"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": list})
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	me, err := getUserUUID(c)
	if err != nil {
		return respondError(c, apperr.ErrUnauthenticated)
	}
	convID, err := paramUUID(c, "id", apperr.ErrInvalidConversationID)
	if err != nil {
		return respondError(c, err)
	}

	summary, err := h.Svc.GetConversationForUser(c.UserContext(), convID, me)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": summary})
}

// GetUnreadTotal returns the total count of unread messages across all conversations
func (h *ChatHandler) GetUnreadTotal(c *fiber.Ctx) error {
	me, err := getUserUUID(c)
	if err != nil {
		return respondError(c, apperr.ErrUnauthenticated)
	}

	count, err := h.Svc.GetUnreadTotal(c.UserContext(), me)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": count})
}

// GetMessages returns the whole conversation, or one page when ?after= or
// ?limit= is given.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	me, err := getUserUUID(c)
	if err != nil {
		return respondError(c, apperr.ErrUnauthenticated)
	}
	conv, err := h.conversationFor(c, me)
	if err != nil {
		return respondError(c, err)
	}

	var msgs []models.Message
	afterStr, limitStr := c.Query("after"), c.Query("limit")
	if afterStr == "" && limitStr == "" {
		msgs, err = h.Svc.GetConversationMessages(c.UserContext(), conv.ID)
	} else {
		var after int64
		var limit int
		if afterStr != "" {
			if after, err = strconv.ParseInt(afterStr, 10, 64); err != nil {
				return respondError(c, apperr.InvalidArg("after must be a number"))
			}
		}
		if limitStr != "" {
			if limit, err = strconv.Atoi(limitStr); err != nil {
				return respondError(c, apperr.InvalidArg("limit must be a number"))
			}
		}
		msgs, err = h.Svc.ListMessagesAfter(c.UserContext(), conv.ID, after, limit)
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "data": msgs})
}

// SendMessage sends a message to the other participant of :id.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	me, err := getUserUUID(c)
	if err != nil {
		return respondError(c, apperr.ErrUnauthenticated)
	}
	conv, err := h.conversationFor(c, me)
	if err != nil {
		return respondError(c, err)
	}

	var req sendMessageRequest
	if err := decodeBody(c, &req); err != nil {
		return respondError(c, err)
	}

	res, err := h.Svc.SendMessage(c.UserContext(), chat.SendInput{
		ConversationID: conv.ID,
		SenderID:       me,
		ReceiverID:     conv.Peer(me),
		Content:        req.Text,
		ClientToken:    req.ClientToken,
	})
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusCreated
	if res.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"success":   true,
		"duplicate": res.Duplicate,
		"data":      res.Message,
	})
}

// MarkAsRead marks every message addressed to the caller in :id as read.
func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
	me, err := getUserUUID(c)
	if err != nil {
		return respondError(c, apperr.ErrUnauthenticated)
	}
	conv, err := h.conversationFor(c, me)
	if err != nil {
		return respondError(c, err)
	}

	n, err := h.Svc.MarkMessagesAsRead(c.UserContext(), conv.ID, me)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"marked": n}})
}
