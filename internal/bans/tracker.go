package bans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/observability"
)

// nowFn is swapped in tests to control time.
var nowFn = time.Now

// Store is the persistence surface the tracker needs.
type Store interface {
	GetBanRecord(ctx context.Context, userID int64) (*models.BanRecord, error)
	UpsertBanRecord(ctx context.Context, b *models.BanRecord) error
}

// Tracker records strikes against user identities and derives ban state from
// the cumulative count: the first and second strike of each cycle set a
// temporary ban, every third cumulative strike upgrades to permanent.
// Strikes never decay; only an administrative Reset clears them.
type Tracker struct {
	store   Store
	tempDur time.Duration
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewTracker constructs a Tracker. tempDur bounds temporary bans.
func NewTracker(store Store, tempDur time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Tracker {
	return &Tracker{store: store, tempDur: tempDur, logger: logger, metrics: metrics}
}

// RecordStrike adds one strike and recomputes the ban state.
func (t *Tracker) RecordStrike(ctx context.Context, userID int64) (*models.BanRecord, error) {
	now := nowFn()

	rec, err := t.store.GetBanRecord(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		rec = &models.BanRecord{UserID: userID}
	} else if err != nil {
		return nil, fmt.Errorf("load ban record: %w", err)
	}

	rec.Strikes++
	rec.StrikeTimes = append(rec.StrikeTimes, now)
	rec.UpdatedAt = now

	if rec.Strikes%3 == 0 {
		rec.Kind = models.BanPermanent
		rec.ExpiresAt = time.Time{}
	} else {
		rec.Kind = models.BanTemporary
		rec.ExpiresAt = now.Add(t.tempDur)
	}

	if err := t.store.UpsertBanRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save ban record: %w", err)
	}

	t.metrics.IncrementStrikes()
	t.metrics.IncrementBans(rec.Kind)
	t.logger.Info("strike recorded",
		zap.Int64("user_id", userID),
		zap.Int("strikes", rec.Strikes),
		zap.String("ban_kind", rec.Kind))
	return rec, nil
}

// Check returns the user's current ban kind. Temporary bans whose expiry has
// passed are lapsed here, at read time; there is deliberately no background
// expiry sweep, so this is the single source of truth for "banned now".
func (t *Tracker) Check(ctx context.Context, userID int64) (string, error) {
	rec, err := t.store.GetBanRecord(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.BanNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("load ban record: %w", err)
	}

	now := nowFn()
	if rec.Kind == models.BanTemporary && !now.Before(rec.ExpiresAt) {
		rec.Kind = models.BanNone
		rec.ExpiresAt = time.Time{}
		rec.UpdatedAt = now
		if err := t.store.UpsertBanRecord(ctx, rec); err != nil {
			// The lapse is still reported; persistence catches up next read.
			t.logger.Warn("persist ban lapse", zap.Error(err), zap.Int64("user_id", userID))
		}
		return models.BanNone, nil
	}
	return rec.Kind, nil
}

// IsBanned reports whether the user is under an active ban right now.
func (t *Tracker) IsBanned(ctx context.Context, userID int64) (bool, error) {
	kind, err := t.Check(ctx, userID)
	if err != nil {
		return false, err
	}
	return kind != models.BanNone, nil
}

// Reset is the administrative override: zero strikes, clear ban state. It does
// not retroactively undo prior moderation decisions.
func (t *Tracker) Reset(ctx context.Context, userID int64) error {
	rec, err := t.store.GetBanRecord(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ban record: %w", err)
	}

	rec.Strikes = 0
	rec.Kind = models.BanNone
	rec.ExpiresAt = time.Time{}
	rec.StrikeTimes = nil
	rec.UpdatedAt = nowFn()
	if err := t.store.UpsertBanRecord(ctx, rec); err != nil {
		return fmt.Errorf("save ban record: %w", err)
	}

	t.logger.Info("ban state reset", zap.Int64("user_id", userID))
	return nil
}
