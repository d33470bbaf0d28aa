// Package presence tracks whether users are connected and when they were
// last seen. The database row is the record; Redis holds a read cache.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/apperr"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
)

const cacheTTL = time.Minute

type Status struct {
	UserID   uuid.UUID  `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen"`
}

type Tracker struct {
	db  *gorm.DB
	rdb *redis.Client
	log *slog.Logger
	now func() time.Time
}

// NewTracker builds a tracker. rdb may be nil, in which case every read
// goes to the database.
func NewTracker(db *gorm.DB, rdb *redis.Client, log *slog.Logger) *Tracker {
	return &Tracker{
		db:  db,
		rdb: rdb,
		log: log,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func cacheKey(userID uuid.UUID) string {
	return "presence:" + userID.String()
}

// lastSeenExpr stamps last_seen only when an online (or never stamped) user
// goes offline, and never moves it backwards.
const lastSeenExpr = `CASE
	WHEN excluded.is_online THEN user_presences.last_seen
	WHEN NOT user_presences.is_online AND user_presences.last_seen IS NOT NULL THEN user_presences.last_seen
	WHEN user_presences.last_seen IS NULL OR user_presences.last_seen < excluded.last_seen THEN excluded.last_seen
	ELSE user_presences.last_seen
END`

// UpdateUserStatus records a status change. Going offline stamps last_seen;
// going online leaves the previous value. Repeating a call is harmless.
func (t *Tracker) UpdateUserStatus(ctx context.Context, userID uuid.UUID, online bool) (Status, error) {
	now := t.now()
	rec := models.UserPresence{UserID: userID, IsOnline: online, UpdatedAt: now}
	if !online {
		rec.LastSeen = &now
	}

	var saved models.UserPresence
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"is_online":  gorm.Expr("excluded.is_online"),
				"updated_at": gorm.Expr("excluded.updated_at"),
				"last_seen":  gorm.Expr(lastSeenExpr),
			}),
		}).Create(&rec).Error
		if err != nil {
			return err
		}
		return tx.First(&saved, "user_id = ?", userID).Error
	})
	if err != nil {
		return Status{}, apperr.ErrStoreUnavailable(err)
	}

	t.invalidate(ctx, userID)
	return toStatus(saved), nil
}

// GetStatus returns the user's presence. A user that never reported a
// status is offline with no last_seen.
func (t *Tracker) GetStatus(ctx context.Context, userID uuid.UUID) (Status, error) {
	if st, ok := t.cached(ctx, userID); ok {
		return st, nil
	}

	var rec models.UserPresence
	err := t.db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Status{UserID: userID}, nil
	}
	if err != nil {
		return Status{}, apperr.ErrStoreUnavailable(err)
	}

	st := toStatus(rec)
	t.cache(ctx, st)
	return st, nil
}

func toStatus(rec models.UserPresence) Status {
	st := Status{UserID: rec.UserID, IsOnline: rec.IsOnline}
	if rec.LastSeen != nil {
		ls := rec.LastSeen.UTC()
		st.LastSeen = &ls
	}
	return st
}

func (t *Tracker) cache(ctx context.Context, st Status) {
	if t.rdb == nil {
		return
	}
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := t.rdb.Set(ctx, cacheKey(st.UserID), b, cacheTTL).Err(); err != nil {
		t.log.Warn("presence cache write failed", "user_id", st.UserID, "err", err)
	}
}

// invalidate drops the cached status so the next read reloads the row.
func (t *Tracker) invalidate(ctx context.Context, userID uuid.UUID) {
	if t.rdb == nil {
		return
	}
	if err := t.rdb.Del(ctx, cacheKey(userID)).Err(); err != nil {
		t.log.Warn("presence cache invalidate failed", "user_id", userID, "err", err)
	}
}

func (t *Tracker) cached(ctx context.Context, userID uuid.UUID) (Status, bool) {
	if t.rdb == nil {
		return Status{}, false
	}
	b, err := t.rdb.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			t.log.Warn("presence cache read failed", "user_id", userID, "err", err)
		}
		return Status{}, false
	}
	var st Status
	if err := json.Unmarshal(b, &st); err != nil {
		return Status{}, false
	}
	return st, true
}
