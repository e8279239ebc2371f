// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the tenant's
// outbound mail history and the auto-replies already sent, the two inputs of
// correlation and loop prevention.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// CreateOutboundEmail stores a tenant-sent email with its recipients.
func CreateOutboundEmail(ctx context.Context, db *gorm.DB, ob *domain.OutboundEmail) (*domain.OutboundEmail, error) {
	if ob.ID == "" {
		ob.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ob.CreatedAt = now
	if ob.SentAt.IsZero() {
		ob.SentAt = now
	}
	for i := range ob.Recipients {
		ob.Recipients[i].TenantID = ob.TenantID
		ob.Recipients[i].Address = domain.NormalizeEmail(ob.Recipients[i].Address)
	}
	if err := db.WithContext(ctx).Create(ob).Error; err != nil {
		return nil, err
	}
	return ob, nil
}

// FindCorrelatedOutbound returns the most recent auto-reply-enabled email the
// tenant sent to address, or ErrNotFound.
func FindCorrelatedOutbound(ctx context.Context, db *gorm.DB, tenantID, address string) (*domain.OutboundEmail, error) {
	var ob domain.OutboundEmail
	err := db.WithContext(ctx).
		Joins("JOIN outbound_recipients r ON r.outbound_email_id = outbound_emails.id").
		Where("outbound_emails.tenant_id = ? AND outbound_emails.auto_reply_enabled = ? AND r.address = ?",
			tenantID, true, domain.NormalizeEmail(address)).
		Order("outbound_emails.sent_at DESC").
		First(&ob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ob, nil
}

// LastReplyTo returns when the tenant last auto-replied to recipient, or nil.
func LastReplyTo(ctx context.Context, db *gorm.DB, tenantID, recipient string) (*time.Time, error) {
	var rows []domain.SentReplyRecord
	err := db.WithContext(ctx).
		Select("sent_at").
		Where("tenant_id = ? AND recipient = ?", tenantID, domain.NormalizeEmail(recipient)).
		Order("sent_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	at := rows[0].SentAt
	return &at, nil
}

// ThreadReplied reports whether an auto-reply was already sent in threadID.
func ThreadReplied(ctx context.Context, db *gorm.DB, tenantID, threadID string) (bool, error) {
	if threadID == "" {
		return false, nil
	}
	var n int64
	err := db.WithContext(ctx).Model(&domain.SentReplyRecord{}).
		Where("tenant_id = ? AND thread_id = ?", tenantID, threadID).
		Count(&n).Error
	return n > 0, err
}

// ReplySentFor reports whether an auto-reply was already recorded for the
// inbound message.
func ReplySentFor(ctx context.Context, db *gorm.DB, tenantID, inboundMessageID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.SentReplyRecord{}).
		Where("tenant_id = ? AND inbound_message_id = ?", tenantID, inboundMessageID).
		Count(&n).Error
	return n > 0, err
}
