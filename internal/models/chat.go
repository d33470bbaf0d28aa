// internal/models/chat.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is the single two-party channel between a pair of users.
// Participants are stored normalized (A < B) and PairKey carries the
// unique constraint that keeps one conversation per pair.
type Conversation struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	ParticipantAID uuid.UUID `gorm:"type:uuid;not null;index" json:"participant_a_id"`
	ParticipantBID uuid.UUID `gorm:"type:uuid;not null;index" json:"participant_b_id"`
	PairKey        string    `gorm:"type:varchar(80);not null;uniqueIndex" json:"-"`

	LastSeq            int64      `gorm:"not null;default:0" json:"last_seq"`
	LastMessageAt      *time.Time `gorm:"index" json:"last_message_at"`
	LastMessagePreview string     `gorm:"type:text" json:"last_message_preview"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantAID == userID || c.ParticipantBID == userID
}

// Peer returns the other participant, or uuid.Nil if userID is not a participant.
func (c *Conversation) Peer(userID uuid.UUID) uuid.UUID {
	switch userID {
	case c.ParticipantAID:
		return c.ParticipantBID
	case c.ParticipantBID:
		return c.ParticipantAID
	}
	return uuid.Nil
}

// ConversationMember holds the materialized unread counter of one participant.
type ConversationMember struct {
	ConversationID uuid.UUID  `gorm:"type:uuid;primaryKey" json:"conversation_id"`
	UserID         uuid.UUID  `gorm:"type:uuid;primaryKey;index" json:"user_id"`
	UnreadCount    int64      `gorm:"not null;default:0" json:"unread_count"`
	LastReadAt     *time.Time `json:"last_read_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one entry of a conversation log. Seq is assigned under the
// conversation row lock, so it follows commit order.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_messages_conv_seq,priority:1;uniqueIndex:idx_messages_conv_token,priority:1" json:"conversation_id"`
	Seq            int64     `gorm:"not null;uniqueIndex:idx_messages_conv_seq,priority:2" json:"seq"`
	SenderID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_messages_conv_token,priority:2" json:"sender_id"`
	ReceiverID     uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_receiver_read,priority:1" json:"receiver_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	ClientToken    *string   `gorm:"type:varchar(64);uniqueIndex:idx_messages_conv_token,priority:3" json:"client_token,omitempty"`

	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	ReadAt    *time.Time `gorm:"index:idx_messages_receiver_read,priority:2" json:"read_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == uuid.Nil {
		m.ID, err = uuid.NewV7()
	}
	return
}
