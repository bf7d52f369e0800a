package scanaudit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthmesh/healthmesh/internal/platform/ids"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Record persists one scan attempt. The server assigns the record identity
// and timestamps; callers cannot backdate entries.
func (s *Service) Record(ctx context.Context, rec *ScanAuditRecord) (uuid.UUID, error) {
	rec.ID = uuid.New()
	rec.EventID = ids.New()
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = s.now().UTC()
	}
	if err := rec.Validate(); err != nil {
		return uuid.Nil, err
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("writing scan audit record: %w", err)
	}
	return rec.ID, nil
}

func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*ScanAuditRecord, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID string, filter Filter, limit, offset int) ([]*ScanAuditRecord, int, error) {
	return s.repo.List(ctx, tenantID, filter, limit, offset)
}

// AmendUsage updates the usage flags of an existing record. Only the usage
// fields can change; the scan outcome itself is immutable.
func (s *Service) AmendUsage(ctx context.Context, tenantID string, id uuid.UUID, update UsageUpdate) (*ScanAuditRecord, error) {
	return s.repo.UpdateUsage(ctx, tenantID, id, update)
}
