package domain

import "time"

// NotificationReceipt records a push message already handled for a tenant,
// keyed by (tenant_id, push_id). Exact redeliveries of the same push are
// acknowledged without touching the change log until the receipt expires.
type NotificationReceipt struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	TenantID  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_tenant_push,priority:1"`
	PushID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_tenant_push,priority:2"`
	Cursor    uint64    `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (NotificationReceipt) TableName() string { return "notification_receipts" }
