// Package notify hands chat events to the push notification service. Events
// are written to an outbox table inside the message transaction and relayed
// to Redis afterwards, so a notification is never lost to a crash between
// commit and publish.
package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
)

// ChatMessage is the payload published for a new chat message.
type ChatMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"text"`
}

func Channel(userID uuid.UUID) string {
	return "notifications:" + userID.String()
}

// Enqueue stores an outbox row for userID. tx must be the transaction that
// writes the event's subject.
func Enqueue(ctx context.Context, tx *gorm.DB, userID uuid.UUID, kind string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "notify.Enqueue.Marshal")
	}
	ev := models.NotificationEvent{
		UserID:  userID,
		Kind:    kind,
		Payload: datatypes.JSON(b),
	}
	if err := tx.WithContext(ctx).Create(&ev).Error; err != nil {
		return errors.Wrap(err, "notify.Enqueue.Insert")
	}
	return nil
}

// EnqueueChatMessage announces msg to its receiver.
func EnqueueChatMessage(ctx context.Context, tx *gorm.DB, msg models.Message) error {
	return Enqueue(ctx, tx, msg.ReceiverID, models.NotificationChatMessage, ChatMessage{
		Type:           models.NotificationChatMessage,
		ConversationID: msg.ConversationID.String(),
		MessageID:      msg.ID.String(),
		SenderID:       msg.SenderID.String(),
		Text:           msg.Content,
	})
}
