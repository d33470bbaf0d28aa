// Package store persists conversations, messages and unread counters.
package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrMismatch is returned when a conversation exists but the given
	// participants are not its pair.
	ErrMismatch = errors.New("conversation participants do not match")
)

// Store groups the chat repositories over one gorm handle. A Store built
// inside InTx shares the transaction across every repository.
type Store struct {
	db *gorm.DB

	Conversations *ConversationStore
	Messages      *MessageStore
	Unread        *UnreadStore
}

func New(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Conversations: &ConversationStore{db: db},
		Messages:      &MessageStore{db: db},
		Unread:        &UnreadStore{db: db},
	}
}

func (s *Store) DB() *gorm.DB { return s.db }

// InTx runs fn in a single transaction. Any error returned by fn rolls back.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

func notFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, op)
}
