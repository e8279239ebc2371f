// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for tenants and
// their reply settings.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// CreateTenant inserts a tenant. The email is normalized before insert and a
// unique violation is reported as ErrDuplicate.
func CreateTenant(ctx context.Context, db *gorm.DB, t *domain.Tenant) (*domain.Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Email = domain.NormalizeEmail(t.Email)
	t.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return t, nil
}

// GetTenant fetches a tenant by id, or ErrNotFound.
func GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTenantByEmail resolves the tenant owning a mailbox address.
func GetTenantByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := db.WithContext(ctx).
		Where("email = ?", domain.NormalizeEmail(email)).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetSettings returns the tenant's reply settings, or ErrNotFound.
func GetSettings(ctx context.Context, db *gorm.DB, tenantID string) (*domain.ReplySettings, error) {
	var s domain.ReplySettings
	err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSettings writes the complete settings row for a tenant.
func UpsertSettings(ctx context.Context, db *gorm.DB, s *domain.ReplySettings) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "mode", "tone", "delay_minutes", "skip_keywords",
			"business_hours_start", "business_hours_end", "business_days",
			"timezone", "once_per_thread", "business_context", "max_retries",
			"updated_at",
		}),
	}).Create(s).Error
}
