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

type ConversationStore struct {
	db *gorm.DB
}

// ConversationRow is a conversation joined with the viewer's unread counter.
type ConversationRow struct {
	models.Conversation
	UnreadCount int64
}

// NormalizePair orders two user ids so that lo < hi.
func NormalizePair(a, b uuid.UUID) (lo, hi uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

// PairKey is the order-independent key of a user pair.
func PairKey(a, b uuid.UUID) string {
	lo, hi := NormalizePair(a, b)
	return lo.String() + ":" + hi.String()
}

// GetOrCreate returns the conversation of the pair, inserting it (and both
// member rows) when missing. Concurrent callers for the same pair converge on
// one row through the unique pair key.
func (s *ConversationStore) GetOrCreate(ctx context.Context, a, b uuid.UUID) (models.Conversation, bool, error) {
	conv, err := s.FindByPair(ctx, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Conversation{}, false, err
	}

	lo, hi := NormalizePair(a, b)
	key := PairKey(a, b)
	created := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate := models.Conversation{
			ParticipantAID: lo,
			ParticipantBID: hi,
			PairKey:        key,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoNothing: true,
		}).Create(&candidate)
		if res.Error != nil {
			return errors.Wrap(res.Error, "convStore.GetOrCreate.Insert")
		}

		if res.RowsAffected == 1 {
			created = true
			members := []models.ConversationMember{
				{ConversationID: candidate.ID, UserID: lo},
				{ConversationID: candidate.ID, UserID: hi},
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error; err != nil {
				return errors.Wrap(err, "convStore.GetOrCreate.InsertMembers")
			}
		}

		if err := tx.Where("pair_key = ?", key).First(&conv).Error; err != nil {
			return errors.Wrap(err, "convStore.GetOrCreate.Reload")
		}
		return nil
	})
	if err != nil {
		return models.Conversation{}, false, err
	}
	return conv, created, nil
}

func (s *ConversationStore) Get(ctx context.Context, id uuid.UUID) (models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return models.Conversation{}, notFound(err, "convStore.Get")
	}
	return conv, nil
}

// FindByPair looks the conversation up by its pair key, in either order.
func (s *ConversationStore) FindByPair(ctx context.Context, a, b uuid.UUID) (models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Where("pair_key = ?", PairKey(a, b)).First(&conv).Error; err != nil {
		return models.Conversation{}, notFound(err, "convStore.FindByPair")
	}
	return conv, nil
}

// Advance reserves the next sequence number of a conversation and records
// the message preview. The first statement takes the row lock, so callers in
// one transaction see a consistent last_seq and last_message_at.
//
// The returned conversation carries the reserved seq in LastSeq and the
// message timestamp in LastMessageAt, never earlier than the previous one.
func (s *ConversationStore) Advance(ctx context.Context, id, sender, receiver uuid.UUID, preview string, now time.Time) (models.Conversation, error) {
	lo, hi := NormalizePair(sender, receiver)
	db := s.db.WithContext(ctx)

	res := db.Model(&models.Conversation{}).
		Where("id = ? AND participant_a_id = ? AND participant_b_id = ?", id, lo, hi).
		UpdateColumn("last_seq", gorm.Expr("last_seq + 1"))
	if res.Error != nil {
		return models.Conversation{}, errors.Wrap(res.Error, "convStore.Advance.BumpSeq")
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := db.Model(&models.Conversation{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return models.Conversation{}, errors.Wrap(err, "convStore.Advance.Exists")
		}
		if n == 0 {
			return models.Conversation{}, ErrNotFound
		}
		return models.Conversation{}, ErrMismatch
	}

	var conv models.Conversation
	if err := db.First(&conv, "id = ?", id).Error; err != nil {
		return models.Conversation{}, notFound(err, "convStore.Advance.Reload")
	}

	at := now
	if conv.LastMessageAt != nil && conv.LastMessageAt.After(at) {
		at = *conv.LastMessageAt
	}

	if err := db.Model(&models.Conversation{}).Where("id = ?", id).UpdateColumns(map[string]any{
		"last_message_at":      at,
		"last_message_preview": preview,
		"updated_at":           at,
	}).Error; err != nil {
		return models.Conversation{}, errors.Wrap(err, "convStore.Advance.Touch")
	}

	conv.LastMessageAt = &at
	conv.LastMessagePreview = preview
	conv.UpdatedAt = at
	return conv, nil
}

// ListForUser returns every conversation the user takes part in, most
// recently active first, with the user's unread counter attached.
func (s *ConversationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]ConversationRow, error) {
	var rows []ConversationRow
	err := s.db.WithContext(ctx).
		Table("conversations AS c").
		Select("c.*, COALESCE(m.unread_count, 0) AS unread_count").
		Joins("LEFT JOIN conversation_members m ON m.conversation_id = c.id AND m.user_id = ?", userID).
		Where("c.participant_a_id = ? OR c.participant_b_id = ?", userID, userID).
		Order("COALESCE(c.last_message_at, c.created_at) DESC").
		Order("c.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "convStore.ListForUser")
	}
	return rows, nil
}
