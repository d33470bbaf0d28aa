// Package chat is the entry point for two-party messaging: conversations,
// messages, read state, unread counts, presence and live events.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/apperr"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/presence"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/realtime"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/services/notify"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/services/profile"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/store"
)

const (
	MaxContentRunes = 4000
	PreviewRunes    = 120
	MaxClientToken  = 64
	DefaultPageSize = 100
	MaxPageSize     = 500
	streamPageSize  = 100
)

// Fanout delivers live events to a user's subscriptions.
type Fanout interface {
	Publish(userID uuid.UUID, ev realtime.Event) bool
	Subscribe(ctx context.Context, userID uuid.UUID) *realtime.Subscription
	SubscriberCount(userID uuid.UUID) int
}

type Presence interface {
	UpdateUserStatus(ctx context.Context, userID uuid.UUID, online bool) (presence.Status, error)
	GetStatus(ctx context.Context, userID uuid.UUID) (presence.Status, error)
}

// Notifier is woken after a send enqueued a push notification.
type Notifier interface {
	Poke()
}

type Service struct {
	store    *store.Store
	dir      profile.Directory
	fanout   Fanout
	presence Presence
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st *store.Store, dir profile.Directory, fanout Fanout, pres Presence, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		dir:      dir,
		fanout:   fanout,
		presence: pres,
		log:      log,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID                 uuid.UUID       `json:"id"`
	Peer               profile.Profile `json:"peer"`
	LastMessagePreview string          `json:"last_message_preview"`
	LastMessageAt      *time.Time      `json:"last_message_at"`
	LastSeq            int64           `json:"last_seq"`
	UnreadCount        int64           `json:"unread_count"`
	CreatedAt          time.Time       `json:"created_at"`
}

type SendInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	ReceiverID     uuid.UUID
	Content        string
	// ClientToken makes retries safe: a second send with the same token
	// returns the first message.
	ClientToken string
}

type SendResult struct {
	Message   models.Message
	Duplicate bool
}

// GetOrCreateConversation returns the single conversation between a and b,
// creating it on first contact.
func (s *Service) GetOrCreateConversation(ctx context.Context, a, b uuid.UUID) (models.Conversation, bool, error) {
	if a == uuid.Nil || b == uuid.Nil {
		return models.Conversation{}, false, apperr.ErrInvalidUserID
	}
	if a == b {
		return models.Conversation{}, false, apperr.ErrSameParticipants
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range []uuid.UUID{a, b} {
		g.Go(func() error {
			_, err := s.dir.ResolveUser(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return models.Conversation{}, false, s.fail("resolve participants", err)
	}

	conv, created, err := s.store.Conversations.GetOrCreate(ctx, a, b)
	if err != nil {
		return models.Conversation{}, false, s.fail("get or create conversation", err)
	}
	if created {
		s.log.Info("conversation created", "conversation_id", conv.ID)
	}
	return conv, created, nil
}

func (s *Service) GetConversation(ctx context.Context, id uuid.UUID) (models.Conversation, error) {
	conv, err := s.store.Conversations.Get(ctx, id)
	if err != nil {
		return models.Conversation{}, s.fail("get conversation", err)
	}
	return conv, nil
}

// GetConversationForUser returns the conversation as it appears in the
// viewer's list. Only participants may read it.
func (s *Service) GetConversationForUser(ctx context.Context, id, viewerID uuid.UUID) (ConversationSummary, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return ConversationSummary{}, err
	}
	if !conv.HasParticipant(viewerID) {
		return ConversationSummary{}, apperr.ErrNotParticipant
	}

	unread, err := s.store.Unread.Count(ctx, id, viewerID)
	if err != nil {
		return ConversationSummary{}, s.fail("count unread", err)
	}

	peerID := conv.Peer(viewerID)
	peer, err := s.dir.ResolveUser(ctx, peerID)
	switch {
	case errors.Is(err, apperr.ErrUserNotFound):
		peer = profile.Placeholder(peerID)
	case err != nil:
		return ConversationSummary{}, s.fail("resolve peer", err)
	}
	return summarize(conv, peer, unread), nil
}

// SendMessage appends a message and bumps the receiver's unread counter in
// one transaction, then notifies the receiver's live subscriptions.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (SendResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return SendResult{}, apperr.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return SendResult{}, apperr.ErrContentTooLong
	}
	if in.SenderID == in.ReceiverID {
		return SendResult{}, apperr.ErrSenderIsReceiver
	}
	token := strings.TrimSpace(in.ClientToken)
	if len(token) > MaxClientToken {
		return SendResult{}, apperr.InvalidArg("client token is too long")
	}

	var (
		res       SendResult
		duplicate = errors.New("duplicate client token")
	)
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		conv, err := tx.Conversations.Advance(ctx, in.ConversationID, in.SenderID, in.ReceiverID, preview(content), s.now())
		if err != nil {
			return err
		}

		if token != "" {
			existing, err := tx.Messages.FindByClientToken(ctx, conv.ID, in.SenderID, token)
			if err == nil {
				res = SendResult{Message: existing, Duplicate: true}
				return duplicate
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		msg := models.Message{
			ConversationID: conv.ID,
			Seq:            conv.LastSeq,
			SenderID:       in.SenderID,
			ReceiverID:     in.ReceiverID,
			Content:        content,
			CreatedAt:      *conv.LastMessageAt,
		}
		if token != "" {
			msg.ClientToken = &token
		}
		if err := tx.Messages.Append(ctx, &msg); err != nil {
			return err
		}
		if err := tx.Unread.Increment(ctx, conv.ID, in.ReceiverID, msg.CreatedAt); err != nil {
			return err
		}
		if err := notify.EnqueueChatMessage(ctx, tx.DB(), msg); err != nil {
			return err
		}

		res.Message = msg
		return nil
	})
	if errors.Is(err, duplicate) {
		return res, nil
	}
	if err != nil {
		return SendResult{}, s.fail("send message", err)
	}

	msg := res.Message
	s.fanout.Publish(in.ReceiverID, realtime.Event{
		Type:           realtime.EventMessageCreated,
		ConversationID: msg.ConversationID,
		Message:        &msg,
		At:             msg.CreatedAt,
	})
	if s.notifier != nil {
		s.notifier.Poke()
	}
	return res, nil
}

// GetConversationMessages returns the whole log in send order.
func (s *Service) GetConversationMessages(ctx context.Context, convID uuid.UUID) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, convID); err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages.ListAfter(ctx, convID, 0, 0)
	if err != nil {
		return nil, s.fail("list messages", err)
	}
	return msgs, nil
}

// ListMessagesAfter returns the page of messages following afterSeq.
func (s *Service) ListMessagesAfter(ctx context.Context, convID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error) {
	if afterSeq < 0 {
		return nil, apperr.InvalidArg("after must not be negative")
	}
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	if _, err := s.GetConversation(ctx, convID); err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages.ListAfter(ctx, convID, afterSeq, limit)
	if err != nil {
		return nil, s.fail("list messages", err)
	}
	return msgs, nil
}

// StreamConversationMessages walks the log page by page. Each iteration
// starts from the beginning, so the sequence can be ranged over again.
func (s *Service) StreamConversationMessages(ctx context.Context, convID uuid.UUID) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		if _, err := s.GetConversation(ctx, convID); err != nil {
			yield(models.Message{}, err)
			return
		}

		var after int64
		for {
			page, err := s.store.Messages.ListAfter(ctx, convID, after, streamPageSize)
			if err != nil {
				yield(models.Message{}, s.fail("stream messages", err))
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
				after = m.Seq
			}
			if len(page) < streamPageSize {
				return
			}
		}
	}
}

// MarkMessagesAsRead stamps every unread message addressed to viewerID and
// zeroes the viewer's counter. It returns how many messages were stamped;
// calling it again returns 0.
func (s *Service) MarkMessagesAsRead(ctx context.Context, convID, viewerID uuid.UUID) (int64, error) {
	now := s.now()

	var (
		conv    models.Conversation
		stamped int64
	)
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		conv, err = tx.Conversations.Get(ctx, convID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(viewerID) {
			return store.ErrMismatch
		}

		// counter first: it takes the member row lock a concurrent send
		// also needs, so both writes land on the same side of that send
		if _, err := tx.Unread.Reset(ctx, convID, viewerID, now); err != nil {
			return err
		}
		stamped, err = tx.Messages.MarkRead(ctx, convID, viewerID, now)
		return err
	})
	if err != nil {
		return 0, s.fail("mark read", err)
	}

	if stamped > 0 {
		reader := viewerID
		s.fanout.Publish(conv.Peer(viewerID), realtime.Event{
			Type:           realtime.EventMessagesRead,
			ConversationID: convID,
			ReaderID:       &reader,
			ReadCount:      stamped,
			At:             now,
		})
	}
	return stamped, nil
}

// GetUserConversations lists the user's conversations, most recent first.
func (s *Service) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	rows, err := s.store.Conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, s.fail("list conversations", err)
	}

	peerIDs := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		peerIDs = append(peerIDs, r.Peer(userID))
	}
	peers, err := s.dir.ResolveUsers(ctx, peerIDs)
	if err != nil {
		return nil, s.fail("resolve peers", err)
	}

	out := make([]ConversationSummary, 0, len(rows))
	for _, r := range rows {
		peerID := r.Peer(userID)
		peer, ok := peers[peerID]
		if !ok {
			peer = profile.Placeholder(peerID)
		}
		out = append(out, summarize(r.Conversation, peer, r.UnreadCount))
	}
	return out, nil
}

// SearchConversations filters the user's list by peer name or last message
// preview, case-insensitively. A blank query returns everything.
func (s *Service) SearchConversations(ctx context.Context, userID uuid.UUID, query string) ([]ConversationSummary, error) {
	all, err := s.GetUserConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}

	out := make([]ConversationSummary, 0, len(all))
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Peer.DisplayName), q) ||
			strings.Contains(strings.ToLower(c.LastMessagePreview), q) {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetUnreadTotal sums the user's unread counters.
func (s *Service) GetUnreadTotal(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.store.Unread.Total(ctx, userID)
	if err != nil {
		return 0, s.fail("unread total", err)
	}
	return n, nil
}

// RecountUnread rewrites the viewer's counter from the message log and
// returns the repaired value.
func (s *Service) RecountUnread(ctx context.Context, convID, viewerID uuid.UUID) (int64, error) {
	var n int64
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		conv, err := tx.Conversations.Get(ctx, convID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(viewerID) {
			return store.ErrMismatch
		}
		if n, err = tx.Unread.Derive(ctx, convID, viewerID); err != nil {
			return err
		}
		return tx.Unread.Set(ctx, convID, viewerID, n, s.now())
	})
	if err != nil {
		return 0, s.fail("recount unread", err)
	}
	return n, nil
}

func (s *Service) UpdateUserStatus(ctx context.Context, userID uuid.UUID, online bool) (presence.Status, error) {
	return s.presence.UpdateUserStatus(ctx, userID, online)
}

func (s *Service) GetUserStatus(ctx context.Context, userID uuid.UUID) (presence.Status, error) {
	return s.presence.GetStatus(ctx, userID)
}

// SubscribeToIncoming registers a live consumer of userID's events. The
// caller owns the handle and must Close it; it is also closed when ctx ends.
func (s *Service) SubscribeToIncoming(ctx context.Context, userID uuid.UUID) *realtime.Subscription {
	return s.fanout.Subscribe(ctx, userID)
}

// IsConnected reports whether userID has a live subscription on this
// instance.
func (s *Service) IsConnected(userID uuid.UUID) bool {
	return s.fanout.SubscriberCount(userID) > 0
}

func summarize(conv models.Conversation, peer profile.Profile, unread int64) ConversationSummary {
	return ConversationSummary{
		ID:                 conv.ID,
		Peer:               peer,
		LastMessagePreview: conv.LastMessagePreview,
		LastMessageAt:      conv.LastMessageAt,
		LastSeq:            conv.LastSeq,
		UnreadCount:        unread,
		CreatedAt:          conv.CreatedAt,
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewRunes {
		return content
	}
	r := []rune(content)
	return string(r[:PreviewRunes])
}

// fail maps store errors to typed errors. Errors that are already typed
// pass through.
func (s *Service) fail(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.ErrConversationNotFound
	case errors.Is(err, store.ErrMismatch):
		return apperr.ErrParticipantMismatch
	}

	var ae *apperr.AppError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Unavailable("request cancelled", err)
	}
	s.log.Error("chat store failure", "op", op, "err", err)
	return apperr.ErrStoreUnavailable(err)
}
