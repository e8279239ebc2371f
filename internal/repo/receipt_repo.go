// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for notification
// receipts used to short-circuit redelivered push messages.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// CreateReceipt records a handled push message and returns ErrDuplicate when
// a live receipt already exists. Expired receipts are replaced.
func CreateReceipt(ctx context.Context, db *gorm.DB, tenantID, pushID string, cursor uint64, ttl time.Duration) (*domain.NotificationReceipt, error) {
	now := time.Now().UTC()
	rec := &domain.NotificationReceipt{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		PushID:    pushID,
		Cursor:    cursor,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ? AND push_id = ? AND expires_at <= ?", tenantID, pushID, now).
			Delete(&domain.NotificationReceipt{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// DeleteReceipt removes a receipt so the push can be reprocessed after a
// failure.
func DeleteReceipt(ctx context.Context, db *gorm.DB, tenantID, pushID string) error {
	return db.WithContext(ctx).
		Where("tenant_id = ? AND push_id = ?", tenantID, pushID).
		Delete(&domain.NotificationReceipt{}).Error
}

// PurgeExpiredReceipts deletes receipts whose TTL elapsed before now.
func PurgeExpiredReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.NotificationReceipt{})
	return res.RowsAffected, res.Error
}
