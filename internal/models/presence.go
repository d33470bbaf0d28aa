package models

import (
	"time"

	"github.com/google/uuid"
)

// UserPresence is the single presence row of a user. LastSeen is the last
// time the user went offline.
type UserPresence struct {
	UserID    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	IsOnline  bool       `gorm:"not null;default:false" json:"is_online"`
	LastSeen  *time.Time `json:"last_seen"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (UserPresence) TableName() string { return "user_presences" }
