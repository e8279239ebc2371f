package domain

import "time"

// JobStatus is the lifecycle state of a ReplyJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobRetry      JobStatus = "retry"
	JobSent       JobStatus = "sent"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSent, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobRetry, JobSent, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is permitted.
//
//	pending    -> processing
//	processing -> sent | retry | failed | cancelled
//	retry      -> processing
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending, JobRetry:
		return next == JobProcessing
	case JobProcessing:
		return next == JobSent || next == JobRetry || next == JobFailed || next == JobCancelled
	}
	return false
}

// ReplyJob is a durable decision to reply to one inbound message. At most one
// job exists per (tenant, inbound message id), enforced by a unique index.
//
// Fields:
//   - Message: snapshot of the inbound message (JSON column).
//   - RetryCount / MaxRetries: bounded retry accounting.
//   - ScheduledFor: earliest eligible processing time.
//   - StartedAt: set when claimed; doubles as the processing lease.
//   - OutboundEmailID: the tenant email the sender was matched against.
//   - Result*: metadata recorded on success.
type ReplyJob struct {
	ID              string         `json:"id"                gorm:"type:char(36);primaryKey"`
	TenantID        string         `json:"tenant_id"         gorm:"type:char(36);not null;uniqueIndex:ux_job_tenant_message,priority:1;index:idx_job_tenant_created,priority:1"`
	MessageID       string         `json:"message_id"        gorm:"type:varchar(128);not null;uniqueIndex:ux_job_tenant_message,priority:2"`
	Message         InboundMessage `json:"message"           gorm:"serializer:json"`
	Status          JobStatus      `json:"status"            gorm:"type:varchar(16);not null;index:idx_job_due,priority:1;check:status IN ('pending','processing','retry','sent','failed','cancelled')"`
	RetryCount      int            `json:"retry_count"       gorm:"not null;default:0"`
	MaxRetries      int            `json:"max_retries"       gorm:"not null;default:3"`
	Priority        int            `json:"priority"          gorm:"not null;default:0"`
	ScheduledFor    time.Time      `json:"scheduled_for"     gorm:"not null;index:idx_job_due,priority:2"`
	CreatedAt       time.Time      `json:"created_at"        gorm:"index:idx_job_tenant_created,priority:2"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" gorm:"index"`
	LastError       string         `json:"last_error,omitempty"   gorm:"type:text"`
	OutboundEmailID string         `json:"outbound_email_id,omitempty" gorm:"type:char(36)"`

	ResultContent  string `json:"result_content,omitempty"  gorm:"type:text"`
	AIGenerated    bool   `json:"ai_generated"`
	TokensUsed     int    `json:"tokens_used"`
	Classification string `json:"classification,omitempty"  gorm:"type:varchar(32)"`
	SentMessageID  string `json:"sent_message_id,omitempty" gorm:"type:varchar(128)"`
}

// TableName returns the database table name for ReplyJob.
func (ReplyJob) TableName() string { return "reply_jobs" }

// ReplyResult is what a successful dispatch records on the job.
type ReplyResult struct {
	Content        string
	AIGenerated    bool
	TokensUsed     int
	Classification string
	SentMessageID  string
	ThreadID       string
}
