// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// JobsStats returns the number of jobs for a tenant (optionally filtered by
// status) and the greatest UpdatedAt among them. When there are no rows the
// count is 0 and maxUpdatedAt is nil.
func JobsStats(ctx context.Context, db *gorm.DB, tenantID string, status domain.JobStatus) (count int64, maxUpdatedAt *time.Time, err error) {
	q := jobsScope(db.WithContext(ctx), tenantID, status)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = jobsScope(db.WithContext(ctx), tenantID, status).
		Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
