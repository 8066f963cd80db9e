package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/domain"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// RetryPolicy bounds audit write retries: Attempts tries, waiting Backoff,
// 2*Backoff, 4*Backoff... between them, each try limited to Timeout.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond, Timeout: 5 * time.Second}
}

type AuditService struct {
	repo   domain.AuditRepository
	policy RetryPolicy
	log    *slog.Logger
}

func NewAuditService(repo domain.AuditRepository, policy RetryPolicy, log *slog.Logger) *AuditService {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &AuditService{repo: repo, policy: policy, log: log}
}

// Log records an audit event. It is fire-and-forget: errors are logged but not propagated.
func (s *AuditService) Log(ctx context.Context, entry *domain.AuditEntry) {
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log", "action", entry.Action, "err", err)
	}
}

// Record writes entry, retrying with exponential backoff. The write is detached
// from ctx cancellation so a caller that timed out still leaves a trail. It
// returns an error wrapping domain.ErrStorageUnavailable once retries run out.
func (s *AuditService) Record(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	base := context.WithoutCancel(ctx)

	var err error
	wait := s.policy.Backoff
	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		err = s.create(base, entry)
		if err == nil {
			return nil
		}
		s.log.Warn("audit write failed",
			"action", entry.Action,
			"resource", entry.ResourceReference,
			"attempt", attempt,
			"err", err,
		)
		if attempt < s.policy.Attempts && wait > 0 {
			time.Sleep(wait)
			wait *= 2
		}
	}
	return fmt.Errorf("%w: audit write failed after %d attempts: %v", domain.ErrStorageUnavailable, s.policy.Attempts, err)
}

func (s *AuditService) create(ctx context.Context, entry *domain.AuditEntry) error {
	if s.policy.Timeout <= 0 {
		return s.repo.Create(ctx, entry)
	}
	ctx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()
	return s.repo.Create(ctx, entry)
}

func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, int, error) {
	return s.repo.List(ctx, filter)
}

// ListForDevice returns the most recent entries for one device, newest first.
func (s *AuditService) ListForDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	resourceType := domain.ResourceFiscalDevice
	ref := deviceID.String()
	entries, _, err := s.repo.List(ctx, domain.AuditFilter{
		ResourceType:      &resourceType,
		ResourceReference: &ref,
		Page:              1,
		PerPage:           limit,
		SortOrder:         "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
