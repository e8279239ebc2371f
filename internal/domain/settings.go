package domain

import (
	"strings"
	"time"
)

// ReplyMode selects how reply content is produced.
type ReplyMode string

const (
	ModeTemplate ReplyMode = "template"
	ModeAI       ReplyMode = "ai"
)

// Tone hints the generator about the register of the reply.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneFormal       Tone = "formal"
	ToneCasual       Tone = "casual"
)

// ReplySettings holds tenant-scoped auto-reply preferences. The pipeline only
// reads these; they are written through the management API.
type ReplySettings struct {
	TenantID           string         `json:"tenant_id"            gorm:"type:char(36);primaryKey"`
	Enabled            bool           `json:"enabled"              gorm:"not null;default:false"`
	Mode               ReplyMode      `json:"mode"                 gorm:"type:varchar(16);not null;default:'template'"`
	Tone               Tone           `json:"tone"                 gorm:"type:varchar(16);not null;default:'professional'"`
	DelayMinutes       int            `json:"delay_minutes"        gorm:"not null;default:0"`
	SkipKeywords       []string       `json:"skip_keywords"        gorm:"serializer:json"`
	BusinessHoursStart int            `json:"business_hours_start" gorm:"not null;default:0"`
	BusinessHoursEnd   int            `json:"business_hours_end"   gorm:"not null;default:0"`
	BusinessDays       []time.Weekday `json:"business_days"        gorm:"serializer:json"`
	Timezone           string         `json:"timezone"             gorm:"type:varchar(64)"`
	OncePerThread      bool           `json:"once_per_thread"      gorm:"not null"`
	BusinessContext    string         `json:"business_context"     gorm:"type:text"`
	MaxRetries         int            `json:"max_retries"          gorm:"not null;default:0"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TableName returns the database table name for ReplySettings.
func (ReplySettings) TableName() string { return "reply_settings" }

// Location resolves the configured IANA timezone, falling back to UTC.
func (s ReplySettings) Location() *time.Location {
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.UTC
}

// HasBusinessHours reports whether a sending window is configured.
func (s ReplySettings) HasBusinessHours() bool {
	return s.BusinessHoursStart >= 0 && s.BusinessHoursEnd <= 24 &&
		s.BusinessHoursStart < s.BusinessHoursEnd
}

func (s ReplySettings) isBusinessDay(d time.Weekday) bool {
	if len(s.BusinessDays) == 0 {
		return d != time.Saturday && d != time.Sunday
	}
	for _, bd := range s.BusinessDays {
		if bd == d {
			return true
		}
	}
	return false
}

// ScheduleAfter returns the earliest time a reply to a message received at
// now may be sent: now plus the configured delay, pushed forward to the next
// business-hours window when one is configured. The result is in UTC.
func (s ReplySettings) ScheduleAfter(now time.Time) time.Time {
	at := now
	if s.DelayMinutes > 0 {
		at = at.Add(time.Duration(s.DelayMinutes) * time.Minute)
	}
	if !s.HasBusinessHours() {
		return at.UTC()
	}

	loc := s.Location()
	local := at.In(loc)
	// At most one week of days to scan; a window always exists in that range
	// unless no business day is configured, in which case the delay stands.
	for i := 0; i < 8; i++ {
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		open := day.Add(time.Duration(s.BusinessHoursStart) * time.Hour)
		closeAt := day.Add(time.Duration(s.BusinessHoursEnd) * time.Hour)
		if s.isBusinessDay(day.Weekday()) {
			if local.Before(open) {
				return open.UTC()
			}
			if local.Before(closeAt) {
				return local.UTC()
			}
		}
		local = day.AddDate(0, 0, 1)
	}
	return at.UTC()
}

// EffectiveMaxRetries returns the tenant override when set, else def.
func (s ReplySettings) EffectiveMaxRetries(def int) int {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return def
}
