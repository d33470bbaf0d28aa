package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
)

type MessageStore struct {
	db *gorm.DB
}

func (s *MessageStore) Append(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return errors.Wrap(err, "msgStore.Append")
	}
	return nil
}

// FindByClientToken looks up a message a sender already stored under token.
func (s *MessageStore) FindByClientToken(ctx context.Context, convID, senderID uuid.UUID, token string) (models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND sender_id = ? AND client_token = ?", convID, senderID, token).
		First(&msg).Error
	if err != nil {
		return models.Message{}, notFound(err, "msgStore.FindByClientToken")
	}
	return msg, nil
}

// ListAfter returns up to limit messages with seq > afterSeq in seq order.
// limit <= 0 means no limit.
func (s *MessageStore) ListAfter(ctx context.Context, convID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error) {
	q := s.db.WithContext(ctx).
		Where("conversation_id = ? AND seq > ?", convID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	msgs := make([]models.Message, 0)
	if err := q.Find(&msgs).Error; err != nil {
		return nil, errors.Wrap(err, "msgStore.ListAfter")
	}
	return msgs, nil
}

// MarkRead stamps every unread message addressed to readerID and returns
// how many were stamped. Already-read messages keep their read_at.
func (s *MessageStore) MarkRead(ctx context.Context, convID, readerID uuid.UUID, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND read_at IS NULL", convID, readerID).
		UpdateColumn("read_at", at)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "msgStore.MarkRead")
	}
	return res.RowsAffected, nil
}

// CountUnread derives the unread count from the message log.
func (s *MessageStore) CountUnread(ctx context.Context, convID, readerID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND read_at IS NULL", convID, readerID).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "msgStore.CountUnread")
	}
	return n, nil
}
