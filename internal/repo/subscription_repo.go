// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for push
// subscriptions and their history cursor.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// GetSubscription fetches a tenant's subscription, or ErrNotFound.
func GetSubscription(ctx context.Context, db *gorm.DB, tenantID string) (*domain.WatchSubscription, error) {
	var s domain.WatchSubscription
	if err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ActivateSubscription records a successful watch call. The cursor is only
// raised, never lowered, so a re-established watch cannot rewind history.
func ActivateSubscription(ctx context.Context, db *gorm.DB, tenantID, topic string, cursor uint64, expiration, now time.Time) error {
	sub := &domain.WatchSubscription{
		TenantID:      tenantID,
		HistoryCursor: cursor,
		Expiration:    expiration.UTC(),
		Active:        true,
		TopicName:     topic,
		RenewedAt:     &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.WatchSubscription
		err := tx.Where("tenant_id = ?", tenantID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(sub).Error
		case err != nil:
			return err
		}
		if existing.HistoryCursor > cursor {
			cursor = existing.HistoryCursor
		}
		return tx.Model(&domain.WatchSubscription{}).
			Where("tenant_id = ?", tenantID).
			Updates(map[string]any{
				"history_cursor": cursor,
				"expiration":     expiration.UTC(),
				"active":         true,
				"error_count":    0,
				"last_error":     "",
				"topic_name":     topic,
				"renewed_at":     now,
				"updated_at":     now,
			}).Error
	})
}

// AdvanceCursor moves the history cursor forward. The update is conditional
// on the stored cursor being lower, which keeps it monotonic under races.
// It reports whether a row was changed.
func AdvanceCursor(ctx context.Context, db *gorm.DB, tenantID string, cursor uint64) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.WatchSubscription{}).
		Where("tenant_id = ? AND history_cursor < ?", tenantID, cursor).
		Updates(map[string]any{
			"history_cursor": cursor,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// DeactivateSubscription marks the subscription inactive with a reason.
func DeactivateSubscription(ctx context.Context, db *gorm.DB, tenantID, reason string) error {
	return db.WithContext(ctx).Model(&domain.WatchSubscription{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"active":     false,
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		}).Error
}

// RecordSubscriptionFailure increments the error count and deactivates the
// subscription.
func RecordSubscriptionFailure(ctx context.Context, db *gorm.DB, tenantID, reason string) error {
	return db.WithContext(ctx).Model(&domain.WatchSubscription{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"active":      false,
			"error_count": gorm.Expr("error_count + 1"),
			"last_error":  reason,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// ListActiveSubscriptions returns every active subscription, used to restore
// renewal timers at boot.
func ListActiveSubscriptions(ctx context.Context, db *gorm.DB) ([]domain.WatchSubscription, error) {
	var out []domain.WatchSubscription
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "expiration"}}).
		Find(&out).Error
	return out, err
}
