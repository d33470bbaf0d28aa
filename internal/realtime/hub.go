// internal/realtime/hub.go
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
)

type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventMessagesRead   EventType = "messages.read"
	EventPong           EventType = "pong"
)

const (
	channelPrefix  = "chat:user:"
	outboundBuffer = 1024
	subBuffer      = 64
)

// Event is a notification pushed to a user's live subscriptions. The message
// store stays the source of truth; clients refetch when they miss one.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Message        *models.Message `json:"message,omitempty"`
	ReaderID       *uuid.UUID      `json:"reader_id,omitempty"`
	ReadCount      int64           `json:"read_count,omitempty"`
	At             time.Time       `json:"at"`
}

type envelope struct {
	UserID uuid.UUID
	Event  Event
}

// Subscription is one live consumer of a user's events. Close it when the
// consumer goes away; closing twice is safe.
type Subscription struct {
	ID     string
	UserID uuid.UUID

	ch   chan Event
	hub  *Hub
	once sync.Once
}

func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub routes events to the subscriptions of their target user. With a Redis
// client the events travel through per-user channels so every API instance
// sees them; without one they are dispatched in process.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[string]*Subscription

	outbound chan envelope
	rdb      *redis.Client
	log      *slog.Logger
}

func NewHub(rdb *redis.Client, log *slog.Logger) *Hub {
	return &Hub{
		subs:     make(map[uuid.UUID]map[string]*Subscription),
		outbound: make(chan envelope, outboundBuffer),
		rdb:      rdb,
		log:      log,
	}
}

func userChannel(userID uuid.UUID) string {
	return channelPrefix + userID.String()
}

// Publish queues ev for userID and returns immediately. When the queue is
// full the event is dropped and false is returned.
func (h *Hub) Publish(userID uuid.UUID, ev Event) bool {
	select {
	case h.outbound <- envelope{UserID: userID, Event: ev}:
		return true
	default:
		h.log.Warn("realtime: outbound queue full, event dropped", "user_id", userID, "type", ev.Type)
		return false
	}
}

// Subscribe registers a consumer for userID. The subscription is closed
// when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, userID uuid.UUID) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		UserID: userID,
		ch:     make(chan Event, subBuffer),
		hub:    h,
	}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[string]*Subscription)
	}
	h.subs[userID][sub.ID] = sub
	h.mu.Unlock()

	context.AfterFunc(ctx, sub.Close)
	h.log.Debug("realtime: subscribed", "user_id", userID, "sub_id", sub.ID)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.UserID]
	if !ok {
		return
	}
	if _, ok := set[sub.ID]; !ok {
		return
	}
	delete(set, sub.ID)
	if len(set) == 0 {
		delete(h.subs, sub.UserID)
	}
	close(sub.ch)
	h.log.Debug("realtime: unsubscribed", "user_id", sub.UserID, "sub_id", sub.ID)
}

// SubscriberCount returns how many live subscriptions userID has on this
// instance.
func (h *Hub) SubscriberCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// dispatch delivers to local subscriptions without blocking. A subscription
// whose buffer is full is closed rather than left open with a gap; its
// consumer reconnects and refetches.
func (h *Hub) dispatch(userID uuid.UUID, ev Event) {
	var overflowed []*Subscription

	h.mu.RLock()
	for _, sub := range h.subs[userID] {
		select {
		case sub.ch <- ev:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range overflowed {
		h.log.Warn("realtime: subscriber too slow, closing", "user_id", userID, "sub_id", sub.ID)
		sub.Close()
	}
}

// Run moves queued events to their subscribers until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		return h.runLocal(ctx)
	}
	return h.runRedis(ctx)
}

func (h *Hub) runLocal(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-h.outbound:
			h.dispatch(env.UserID, env.Event)
		}
	}
}

func (h *Hub) runRedis(ctx context.Context) error {
	pubsub := h.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "realtime: psubscribe")
	}
	in := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil

		case env := <-h.outbound:
			b, err := json.Marshal(env.Event)
			if err != nil {
				h.log.Error("realtime: marshal event", "err", err)
				continue
			}
			if err := h.rdb.Publish(ctx, userChannel(env.UserID), b).Err(); err != nil {
				// keep local subscribers served while redis is away
				h.log.Warn("realtime: redis publish failed", "user_id", env.UserID, "err", err)
				h.dispatch(env.UserID, env.Event)
			}

		case m, ok := <-in:
			if !ok {
				return errors.New("realtime: redis subscription closed")
			}
			userID, err := uuid.Parse(strings.TrimPrefix(m.Channel, channelPrefix))
			if err != nil {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				h.log.Warn("realtime: bad event payload", "channel", m.Channel, "err", err)
				continue
			}
			h.dispatch(userID, ev)
		}
	}
}
