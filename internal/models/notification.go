package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const NotificationChatMessage = "chat_message"

// NotificationEvent is an outbox row for the push notification service.
// It is written in the same transaction as the message it announces.
type NotificationEvent struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind         string         `gorm:"type:varchar(40);not null" json:"kind"`
	Payload      datatypes.JSON `json:"payload"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	DispatchedAt *time.Time     `gorm:"index" json:"dispatched_at,omitempty"`
}

func (n *NotificationEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == uuid.Nil {
		n.ID, err = uuid.NewV7()
	}
	return
}
