package scanaudit

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("audit record not found")

// Repository is insert-plus-amend: records are created once, listed, and
// have only their usage fields updated. There is no delete.
type Repository interface {
	Create(ctx context.Context, rec *ScanAuditRecord) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*ScanAuditRecord, error)
	List(ctx context.Context, tenantID string, filter Filter, limit, offset int) ([]*ScanAuditRecord, int, error)
	UpdateUsage(ctx context.Context, tenantID string, id uuid.UUID, update UsageUpdate) (*ScanAuditRecord, error)
}
