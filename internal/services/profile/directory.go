// Package profile resolves marketplace users into the public profile shown
// next to a conversation.
package profile

//go:generate mockgen -destination=mocks/mock_directory.go -package=mocks . Directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/apperr"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
)

type Profile struct {
	ID          uuid.UUID   `json:"id"`
	DisplayName string      `json:"display_name"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
	Role        models.Role `json:"role"`
}

// Directory looks up users. ResolveUser returns apperr.ErrUserNotFound for
// unknown or deactivated users; ResolveUsers omits them from the result.
type Directory interface {
	ResolveUser(ctx context.Context, id uuid.UUID) (Profile, error)
	ResolveUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Profile, error)
}

// GormDirectory reads users and artist profiles from the marketplace
// database.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) ResolveUser(ctx context.Context, id uuid.UUID) (Profile, error) {
	var u models.User
	err := d.db.WithContext(ctx).
		Preload("ArtistProfile").
		Where("id = ? AND is_active = ?", id, true).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, apperr.ErrUserNotFound
	}
	if err != nil {
		return Profile{}, apperr.ErrStoreUnavailable(err)
	}
	return FromUser(u), nil
}

func (d *GormDirectory) ResolveUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Profile, error) {
	out := make(map[uuid.UUID]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var users []models.User
	err := d.db.WithContext(ctx).
		Preload("ArtistProfile").
		Where("id IN ? AND is_active = ?", ids, true).
		Find(&users).Error
	if err != nil {
		return nil, apperr.ErrStoreUnavailable(err)
	}
	for _, u := range users {
		out[u.ID] = FromUser(u)
	}
	return out, nil
}

// FromUser maps a user row to its public profile. Artists are shown under
// their system name when they set one.
func FromUser(u models.User) Profile {
	p := Profile{ID: u.ID, DisplayName: u.Name, Role: u.Role}
	if u.ArtistProfile != nil {
		if u.ArtistProfile.SystemName != "" {
			p.DisplayName = u.ArtistProfile.SystemName
		}
		p.AvatarURL = u.ArtistProfile.PhotoURL
	}
	return p
}

// Placeholder stands in for a peer the directory can no longer resolve.
func Placeholder(id uuid.UUID) Profile {
	return Profile{ID: id, DisplayName: "Deleted user"}
}
