package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
)

const batchSize = 100

// Relay publishes pending outbox rows to per-user Redis channels.
// Delivery is at-least-once: a crash after publish and before the dispatch
// stamp republishes the row.
type Relay struct {
	db       *gorm.DB
	rdb      *redis.Client
	log      *slog.Logger
	interval time.Duration
	poke     chan struct{}
	now      func() time.Time
}

func NewRelay(db *gorm.DB, rdb *redis.Client, log *slog.Logger, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{
		db:       db,
		rdb:      rdb,
		log:      log,
		interval: interval,
		poke:     make(chan struct{}, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Poke wakes the relay early. It never blocks.
func (r *Relay) Poke() {
	select {
	case r.poke <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if n, err := r.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("notification relay failed", "err", err, "published", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.poke:
		}
	}
}

// Drain publishes every pending row oldest first and returns how many were
// published. It stops at the first publish error so rows keep their order.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		var batch []models.NotificationEvent
		err := r.db.WithContext(ctx).
			Where("dispatched_at IS NULL").
			Order("created_at ASC").
			Order("id ASC").
			Limit(batchSize).
			Find(&batch).Error
		if err != nil {
			return total, errors.Wrap(err, "relay.Drain.Select")
		}
		if len(batch) == 0 {
			return total, nil
		}

		n, pubErr := r.publish(ctx, batch)
		if n > 0 {
			ids := make([]any, 0, n)
			for _, ev := range batch[:n] {
				ids = append(ids, ev.ID)
			}
			if err := r.db.WithContext(ctx).Model(&models.NotificationEvent{}).
				Where("id IN ?", ids).
				UpdateColumn("dispatched_at", r.now()).Error; err != nil {
				return total, errors.Wrap(err, "relay.Drain.Stamp")
			}
			total += n
		}
		if pubErr != nil {
			return total, pubErr
		}
		if len(batch) < batchSize {
			return total, nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, batch []models.NotificationEvent) (int, error) {
	for i, ev := range batch {
		if err := r.rdb.Publish(ctx, Channel(ev.UserID), []byte(ev.Payload)).Err(); err != nil {
			return i, errors.Wrap(err, "relay.Publish")
		}
	}
	return len(batch), nil
}

// Pending counts rows not yet published.
func (r *Relay) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.NotificationEvent{}).
		Where("dispatched_at IS NULL").
		Count(&n).Error
	return n, errors.Wrap(err, "relay.Pending")
}
