// Package services – TenantService
//
// This file implements the management operations behind the HTTP API:
// tenant registration, reply settings, recording tenant-sent emails for
// correlation, and the paginated job audit listing. Inputs are validated
// here and reported as *ValidationError so handlers can answer 400.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
	"github.com/tbourn/go-autoreply-backend/internal/utils"
)

// TenantRepo defines the repository contract required by TenantService.
type TenantRepo interface {
	CreateTenant(ctx context.Context, db *gorm.DB, t *domain.Tenant) (*domain.Tenant, error)
	GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error)
	GetSettings(ctx context.Context, db *gorm.DB, tenantID string) (*domain.ReplySettings, error)
	UpsertSettings(ctx context.Context, db *gorm.DB, s *domain.ReplySettings) error
	CreateOutboundEmail(ctx context.Context, db *gorm.DB, ob *domain.OutboundEmail) (*domain.OutboundEmail, error)
	CountJobs(ctx context.Context, db *gorm.DB, tenantID string, status domain.JobStatus) (int64, error)
	ListJobsPage(ctx context.Context, db *gorm.DB, tenantID string, status domain.JobStatus, offset, limit int) ([]domain.ReplyJob, error)
	GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.ReplyJob, error)
}

// TenantService provides tenant-level management operations.
type TenantService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the repository used by this service.
	Repo TenantRepo
	// DefaultMaxRetries is reported for tenants without an override.
	DefaultMaxRetries int
}

// NewTenantService constructs a TenantService.
func NewTenantService(db *gorm.DB, r TenantRepo) *TenantService {
	return &TenantService{DB: db, Repo: r, DefaultMaxRetries: 3}
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Email       string
	DisplayName string
	FirstName   string
	Company     string
	Signature   string
	Credentials string
}

// OutboundInput is the payload of RecordOutbound.
type OutboundInput struct {
	Subject          string
	ThreadID         string
	AutoReplyEnabled bool
	Recipients       []string
	SentAt           time.Time
}

// Register creates a tenant. The mailbox address must be unique.
func (s *TenantService) Register(ctx context.Context, in RegisterInput) (*domain.Tenant, error) {
	ctx, span := otel.Tracer("services/TenantService").Start(ctx, "Register")
	defer span.End()

	addr, err := parseAddress(in.Email)
	if err != nil {
		return nil, Invalid("email", "must be a valid mailbox address")
	}
	t := &domain.Tenant{
		Email:       addr,
		DisplayName: strings.TrimSpace(in.DisplayName),
		FirstName:   strings.TrimSpace(in.FirstName),
		Company:     strings.TrimSpace(in.Company),
		Signature:   strings.TrimSpace(in.Signature),
		Credentials: in.Credentials,
	}
	out, err := s.Repo.CreateTenant(ctx, s.DB, t)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrTenantExists
		}
		return nil, err
	}
	return out, nil
}

// Get returns the tenant or ErrTenantNotFound.
func (s *TenantService) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	t, err := s.Repo.GetTenant(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTenantNotFound
	}
	return t, err
}

// Settings returns the tenant's settings, or the disabled defaults when none
// were stored yet.
func (s *TenantService) Settings(ctx context.Context, tenantID string) (*domain.ReplySettings, error) {
	if _, err := s.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	st, err := s.Repo.GetSettings(ctx, s.DB, tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.ReplySettings{
			TenantID: tenantID,
			Mode:     domain.ModeTemplate,
			Tone:     domain.ToneProfessional,
		}, nil
	}
	return st, err
}

// UpdateSettings validates and stores the complete settings for a tenant.
func (s *TenantService) UpdateSettings(ctx context.Context, tenantID string, in domain.ReplySettings) (*domain.ReplySettings, error) {
	if _, err := s.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	in.TenantID = tenantID
	if in.Mode == "" {
		in.Mode = domain.ModeTemplate
	}
	if in.Tone == "" {
		in.Tone = domain.ToneProfessional
	}
	if err := validateSettings(&in); err != nil {
		return nil, err
	}
	if err := s.Repo.UpsertSettings(ctx, s.DB, &in); err != nil {
		return nil, err
	}
	return s.Repo.GetSettings(ctx, s.DB, tenantID)
}

// RecordOutbound stores an email the tenant sent, the source of correlation.
func (s *TenantService) RecordOutbound(ctx context.Context, tenantID string, in OutboundInput) (*domain.OutboundEmail, error) {
	if _, err := s.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	if len(in.Recipients) == 0 {
		return nil, Invalid("recipients", "at least one recipient is required")
	}
	ob := &domain.OutboundEmail{
		TenantID:         tenantID,
		Subject:          strings.TrimSpace(in.Subject),
		ThreadID:         strings.TrimSpace(in.ThreadID),
		AutoReplyEnabled: in.AutoReplyEnabled,
		SentAt:           in.SentAt.UTC(),
	}
	seen := make(map[string]struct{}, len(in.Recipients))
	for _, r := range in.Recipients {
		addr, err := parseAddress(r)
		if err != nil {
			return nil, Invalid("recipients", "invalid address "+strings.TrimSpace(r))
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		ob.Recipients = append(ob.Recipients, domain.OutboundRecipient{Address: addr})
	}
	return s.Repo.CreateOutboundEmail(ctx, s.DB, ob)
}

// ListJobsPage returns a page of the tenant's jobs (newest first) and the
// total count. It applies defaults for invalid page/pageSize.
func (s *TenantService) ListJobsPage(ctx context.Context, tenantID string, status domain.JobStatus, page, pageSize int) ([]domain.ReplyJob, int64, error) {
	if _, err := s.Get(ctx, tenantID); err != nil {
		return nil, 0, err
	}
	if status != "" && !status.Valid() {
		return nil, 0, Invalid("status", "unknown job status")
	}
	page, pageSize = utils.ClampPage(page, pageSize)
	offset := utils.Offset(page, pageSize)

	total, err := s.Repo.CountJobs(ctx, s.DB, tenantID, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ReplyJob{}, 0, nil
	}
	items, err := s.Repo.ListJobsPage(ctx, s.DB, tenantID, status, offset, pageSize)
	return items, total, err
}

// Job returns one of the tenant's jobs or ErrJobNotFound.
func (s *TenantService) Job(ctx context.Context, tenantID, jobID string) (*domain.ReplyJob, error) {
	j, err := s.Repo.GetJob(ctx, s.DB, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && j.TenantID != tenantID) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func validateSettings(st *domain.ReplySettings) error {
	switch st.Mode {
	case domain.ModeTemplate, domain.ModeAI:
	default:
		return Invalid("mode", "must be template or ai")
	}
	switch st.Tone {
	case domain.ToneProfessional, domain.ToneFriendly, domain.ToneFormal, domain.ToneCasual:
	default:
		return Invalid("tone", "must be professional, friendly, formal or casual")
	}
	if st.DelayMinutes < 0 || st.DelayMinutes > 7*24*60 {
		return Invalid("delay_minutes", "must be between 0 and 10080")
	}
	if st.BusinessHoursStart < 0 || st.BusinessHoursStart > 24 || st.BusinessHoursEnd < 0 || st.BusinessHoursEnd > 24 {
		return Invalid("business_hours", "hours must be within 0..24")
	}
	if st.BusinessHoursEnd != 0 && st.BusinessHoursStart >= st.BusinessHoursEnd {
		return Invalid("business_hours", "start must be before end")
	}
	for _, d := range st.BusinessDays {
		if d < time.Sunday || d > time.Saturday {
			return Invalid("business_days", "weekday must be 0..6")
		}
	}
	if tz := strings.TrimSpace(st.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return Invalid("timezone", "unknown IANA timezone")
		}
	}
	if st.MaxRetries < 0 || st.MaxRetries > 10 {
		return Invalid("max_retries", "must be between 0 and 10")
	}
	kw := st.SkipKeywords[:0]
	for _, k := range st.SkipKeywords {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, k)
		}
	}
	st.SkipKeywords = kw
	return nil
}

func parseAddress(s string) (string, error) {
	a, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return domain.NormalizeEmail(a.Address), nil
}

