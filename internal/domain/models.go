// Package domain defines the persistence models for tenants, push
// subscriptions, reply settings, outbound correlation data and the reply job
// queue. These types are mapped with GORM and form the core data layer of the
// auto-reply backend.
package domain

import (
	"strings"
	"time"
)

// Tenant represents a mailbox owner registered with the service. The
// credential blob is produced by an external identity provider and is treated
// as opaque by the pipeline; only the mailbox provider factory decodes it.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: mailbox address, lower-cased and unique; used to route pushes.
//   - DisplayName / FirstName / Company / Signature: personalization inputs.
//   - Credentials: serialized OAuth token; never rendered in JSON.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Tenant struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Email       string    `json:"email"        gorm:"type:varchar(320);not null;uniqueIndex:ux_tenant_email"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255)"`
	FirstName   string    `json:"first_name"   gorm:"type:varchar(128)"`
	Company     string    `json:"company"      gorm:"type:varchar(255)"`
	Signature   string    `json:"signature"    gorm:"type:text"`
	Credentials string    `json:"-"            gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// NormalizeEmail lower-cases and trims a mailbox address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// WatchSubscription is the per-tenant push registration with the mailbox
// provider. HistoryCursor is the last fully processed position in the
// provider change log and only ever moves forward.
type WatchSubscription struct {
	TenantID      string     `json:"tenant_id"      gorm:"type:char(36);primaryKey"`
	HistoryCursor uint64     `json:"history_cursor" gorm:"not null;default:0"`
	Expiration    time.Time  `json:"expiration"`
	Active        bool       `json:"active"         gorm:"not null;default:false;index"`
	ErrorCount    int        `json:"error_count"    gorm:"not null;default:0"`
	LastError     string     `json:"last_error,omitempty" gorm:"type:text"`
	TopicName     string     `json:"topic_name"     gorm:"type:varchar(255)"`
	RenewedAt     *time.Time `json:"renewed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for WatchSubscription.
func (WatchSubscription) TableName() string { return "watch_subscriptions" }

// OutboundEmail is an email the tenant sent through the scheduling side of
// the product. Recipients of auto-reply-enabled emails are the only senders
// the pipeline answers.
type OutboundEmail struct {
	ID               string              `json:"id"                 gorm:"type:char(36);primaryKey"`
	TenantID         string              `json:"tenant_id"          gorm:"type:char(36);not null;index:idx_outbound_tenant"`
	Subject          string              `json:"subject"            gorm:"type:text"`
	ThreadID         string              `json:"thread_id,omitempty" gorm:"type:varchar(128)"`
	AutoReplyEnabled bool                `json:"auto_reply_enabled" gorm:"not null;default:false"`
	SentAt           time.Time           `json:"sent_at"`
	CreatedAt        time.Time           `json:"created_at"`
	Recipients       []OutboundRecipient `json:"recipients"         gorm:"foreignKey:OutboundEmailID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for OutboundEmail.
func (OutboundEmail) TableName() string { return "outbound_emails" }

// OutboundRecipient is one address an OutboundEmail was delivered to.
type OutboundRecipient struct {
	ID              uint   `json:"-"       gorm:"primaryKey;autoIncrement"`
	OutboundEmailID string `json:"-"       gorm:"type:char(36);not null;index"`
	TenantID        string `json:"-"       gorm:"type:char(36);not null;index:idx_recipient_lookup,priority:1"`
	Address         string `json:"address" gorm:"type:varchar(320);not null;index:idx_recipient_lookup,priority:2"`
}

// TableName returns the database table name for OutboundRecipient.
func (OutboundRecipient) TableName() string { return "outbound_recipients" }

// SentReplyRecord is written only after the provider confirmed an auto-reply
// was sent. It feeds loop prevention and once-per-thread checks.
type SentReplyRecord struct {
	ID               uint      `json:"-"                  gorm:"primaryKey;autoIncrement"`
	TenantID         string    `json:"tenant_id"          gorm:"type:char(36);not null;index:idx_sent_recipient,priority:1;index:idx_sent_thread,priority:1"`
	ThreadID         string    `json:"thread_id"          gorm:"type:varchar(128);index:idx_sent_thread,priority:2"`
	Recipient        string    `json:"recipient"          gorm:"type:varchar(320);not null;index:idx_sent_recipient,priority:2"`
	InboundMessageID string    `json:"inbound_message_id" gorm:"type:varchar(128);not null"`
	ReplyMessageID   string    `json:"reply_message_id"   gorm:"type:varchar(128)"`
	JobID            string    `json:"job_id"             gorm:"type:char(36);not null"`
	SentAt           time.Time `json:"sent_at"            gorm:"not null;index:idx_sent_recipient,priority:3"`
}

// TableName returns the database table name for SentReplyRecord.
func (SentReplyRecord) TableName() string { return "sent_replies" }
