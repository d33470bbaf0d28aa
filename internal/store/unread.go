package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
)

// UnreadStore keeps the per-participant unread counters. Every write happens
// in the same transaction as the message log change it mirrors.
type UnreadStore struct {
	db *gorm.DB
}

// Increment adds one unread message for userID, creating the member row
// when missing.
func (s *UnreadStore) Increment(ctx context.Context, convID, userID uuid.UUID, at time.Time) error {
	member := models.ConversationMember{
		ConversationID: convID,
		UserID:         userID,
		UnreadCount:    1,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"unread_count": gorm.Expr("conversation_members.unread_count + 1"),
			"updated_at":   at,
		}),
	}).Create(&member).Error
	if err != nil {
		return errors.Wrap(err, "unreadStore.Increment")
	}
	return nil
}

// Reset zeroes the counter of userID and returns the previous value.
func (s *UnreadStore) Reset(ctx context.Context, convID, userID uuid.UUID, at time.Time) (int64, error) {
	db := s.db.WithContext(ctx)

	// lock the member row before reading it
	res := db.Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		UpdateColumn("updated_at", at)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "unreadStore.Reset.Lock")
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}

	var member models.ConversationMember
	if err := db.First(&member, "conversation_id = ? AND user_id = ?", convID, userID).Error; err != nil {
		return 0, errors.Wrap(err, "unreadStore.Reset.Read")
	}

	if err := db.Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		UpdateColumns(map[string]any{"unread_count": 0, "last_read_at": at}).Error; err != nil {
		return 0, errors.Wrap(err, "unreadStore.Reset.Zero")
	}
	return member.UnreadCount, nil
}

func (s *UnreadStore) Count(ctx context.Context, convID, userID uuid.UUID) (int64, error) {
	var member models.ConversationMember
	err := s.db.WithContext(ctx).First(&member, "conversation_id = ? AND user_id = ?", convID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "unreadStore.Count")
	}
	return member.UnreadCount, nil
}

// Total sums the unread counters of userID across conversations.
func (s *UnreadStore) Total(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.ConversationMember{}).
		Select("COALESCE(SUM(unread_count), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "unreadStore.Total")
	}
	return total, nil
}

// Derive recomputes the unread count of userID from the message log.
func (s *UnreadStore) Derive(ctx context.Context, convID, userID uuid.UUID) (int64, error) {
	return (&MessageStore{db: s.db}).CountUnread(ctx, convID, userID)
}

// Set overwrites the counter, creating the member row when missing. Used to
// repair a counter from the message log.
func (s *UnreadStore) Set(ctx context.Context, convID, userID uuid.UUID, n int64, at time.Time) error {
	member := models.ConversationMember{
		ConversationID: convID,
		UserID:         userID,
		UnreadCount:    n,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"unread_count", "updated_at"}),
	}).Create(&member).Error
	if err != nil {
		return errors.Wrap(err, "unreadStore.Set")
	}
	return nil
}
