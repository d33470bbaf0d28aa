// internal/models/artist_profile.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ArtistProfile struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`

	// public name shown instead of the account name
	SystemName string `gorm:"type:varchar(120)" json:"system_name"`
	PhotoURL   string `gorm:"type:text" json:"photo_url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *ArtistProfile) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}
