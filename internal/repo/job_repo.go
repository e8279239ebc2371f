// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the durable reply-job queue.
//
// Every state change is a conditional UPDATE keyed on the expected current
// status; a RowsAffected of zero is reported as ErrConflict so callers never
// overwrite a transition made by someone else. Terminal rows are immutable.
//
// Functions:
//
//   - EnqueueJob: insert unless a job already exists for (tenant, message).
//   - DequeueJobs: due pending/retry jobs under their retry cap.
//   - ClaimJob: pending|retry -> processing, stamping the lease.
//   - MarkJobSent / MarkJobRetry / MarkJobFailed / CancelJob: leave processing.
//   - RequeueStaleJobs: lease sweep for processing rows older than a grace.
//   - PurgeTerminalJobs: delete terminal rows past retention.
//   - ListJobsPage / CountJobs: audit listing.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

var (
	dueStatuses      = []string{string(domain.JobPending), string(domain.JobRetry)}
	terminalStatuses = []string{string(domain.JobSent), string(domain.JobFailed), string(domain.JobCancelled)}
)

// EnqueueJob inserts job in pending state. When a job already exists for the
// same (tenant, message id) nothing is written and the existing row is
// returned with created=false.
func EnqueueJob(ctx context.Context, db *gorm.DB, job *domain.ReplyJob) (out *domain.ReplyJob, created bool, err error) {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = domain.JobPending
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = now
	}
	job.ScheduledFor = job.ScheduledFor.UTC()

	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(job)
	if res.Error != nil && !isDuplicate(res.Error) {
		return nil, false, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return job, true, nil
	}

	var existing domain.ReplyJob
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND message_id = ?", job.TenantID, job.MessageID).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// GetJob fetches a job by id, or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.ReplyJob, error) {
	var j domain.ReplyJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// DequeueJobs returns up to limit jobs due at now, oldest schedule first and
// higher priority first within the same schedule. Jobs that exhausted their
// retries are never returned.
func DequeueJobs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.ReplyJob, error) {
	var out []domain.ReplyJob
	err := db.WithContext(ctx).
		Where("status IN ? AND scheduled_for <= ? AND retry_count < max_retries", dueStatuses, now.UTC()).
		Order("scheduled_for ASC, priority DESC, created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ClaimJob moves a due job to processing and stamps StartedAt as its lease.
func ClaimJob(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	now = now.UTC()
	res := db.WithContext(ctx).Model(&domain.ReplyJob{}).
		Where("id = ? AND status IN ?", id, dueStatuses).
		Updates(map[string]any{
			"status":     domain.JobProcessing,
			"started_at": now,
			"updated_at": now,
		})
	return affectedOne(res)
}

// MarkJobSent records the result, writes the SentReplyRecord and moves the
// job to sent in a single transaction.
func MarkJobSent(ctx context.Context, db *gorm.DB, id string, result domain.ReplyResult, record *domain.SentReplyRecord, now time.Time) error {
	now = now.UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.ReplyJob{}).
			Where("id = ? AND status = ?", id, domain.JobProcessing).
			Updates(map[string]any{
				"status":          domain.JobSent,
				"completed_at":    now,
				"updated_at":      now,
				"last_error":      "",
				"result_content":  result.Content,
				"ai_generated":    result.AIGenerated,
				"tokens_used":     result.TokensUsed,
				"classification":  result.Classification,
				"sent_message_id": result.SentMessageID,
			})
		if err := affectedOne(res); err != nil {
			return err
		}
		if record == nil {
			return nil
		}
		record.JobID = id
		record.Recipient = domain.NormalizeEmail(record.Recipient)
		if record.SentAt.IsZero() {
			record.SentAt = now
		}
		return tx.Create(record).Error
	})
}

// MarkJobRetry schedules another attempt at nextAt with the new retry count.
func MarkJobRetry(ctx context.Context, db *gorm.DB, id string, retryCount int, nextAt time.Time, reason string) error {
	res := db.WithContext(ctx).Model(&domain.ReplyJob{}).
		Where("id = ? AND status = ?", id, domain.JobProcessing).
		Updates(map[string]any{
			"status":        domain.JobRetry,
			"retry_count":   retryCount,
			"scheduled_for": nextAt.UTC(),
			"last_error":    reason,
			"started_at":    nil,
			"updated_at":    time.Now().UTC(),
		})
	return affectedOne(res)
}

// MarkJobFailed makes the job terminally failed.
func MarkJobFailed(ctx context.Context, db *gorm.DB, id string, retryCount int, reason string, now time.Time) error {
	now = now.UTC()
	res := db.WithContext(ctx).Model(&domain.ReplyJob{}).
		Where("id = ? AND status = ?", id, domain.JobProcessing).
		Updates(map[string]any{
			"status":       domain.JobFailed,
			"retry_count":  retryCount,
			"last_error":   reason,
			"completed_at": now,
			"updated_at":   now,
		})
	return affectedOne(res)
}

// CancelJob makes the job terminally cancelled.
func CancelJob(ctx context.Context, db *gorm.DB, id, reason string, now time.Time) error {
	now = now.UTC()
	res := db.WithContext(ctx).Model(&domain.ReplyJob{}).
		Where("id = ? AND status = ?", id, domain.JobProcessing).
		Updates(map[string]any{
			"status":       domain.JobCancelled,
			"last_error":   reason,
			"completed_at": now,
			"updated_at":   now,
		})
	return affectedOne(res)
}

// RequeueStaleJobs recovers jobs stuck in processing whose lease started
// before olderThan. Each recovered job consumes one retry: it returns to
// retry when budget remains, otherwise it fails.
func RequeueStaleJobs(ctx context.Context, db *gorm.DB, olderThan, now time.Time) (requeued, failed int64, err error) {
	now = now.UTC()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&domain.ReplyJob{}).
			Where("status = ? AND started_at IS NOT NULL AND started_at < ?", domain.JobProcessing, olderThan.UTC()).
			Session(&gorm.Session{})

		res := stale.
			Where("retry_count + 1 >= max_retries").
			Updates(map[string]any{
				"status":       domain.JobFailed,
				"retry_count":  gorm.Expr("retry_count + 1"),
				"last_error":   "processing lease expired",
				"completed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		failed = res.RowsAffected

		res = stale.
			Where("retry_count + 1 < max_retries").
			Updates(map[string]any{
				"status":        domain.JobRetry,
				"retry_count":   gorm.Expr("retry_count + 1"),
				"last_error":    "processing lease expired",
				"scheduled_for": now,
				"started_at":    nil,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		requeued = res.RowsAffected
		return nil
	})
	return requeued, failed, err
}

// PurgeTerminalJobs deletes terminal jobs last updated before cutoff.
func PurgeTerminalJobs(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminalStatuses, cutoff.UTC()).
		Delete(&domain.ReplyJob{})
	return res.RowsAffected, res.Error
}

// CountJobs returns the number of jobs for a tenant, optionally filtered by
// status.
func CountJobs(ctx context.Context, db *gorm.DB, tenantID string, status domain.JobStatus) (int64, error) {
	var total int64
	err := jobsScope(db.WithContext(ctx), tenantID, status).Count(&total).Error
	return total, err
}

// ListJobsPage returns a page of a tenant's jobs, newest first.
func ListJobsPage(ctx context.Context, db *gorm.DB, tenantID string, status domain.JobStatus, offset, limit int) ([]domain.ReplyJob, error) {
	var out []domain.ReplyJob
	err := jobsScope(db.WithContext(ctx), tenantID, status).
		Order("created_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func jobsScope(db *gorm.DB, tenantID string, status domain.JobStatus) *gorm.DB {
	q := db.Model(&domain.ReplyJob{}).Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return q
}

func affectedOne(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrConflict
	}
	return nil
}
