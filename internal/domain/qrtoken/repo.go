package qrtoken

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RegistrationRepository persists PatientQrRegistration rows. Registrations
// are append-plus-revoke only: no update path exists besides the terminal
// Active -> Revoked transition.
type RegistrationRepository interface {
	// CreateWithCap inserts a new registration and, when maxActive > 0,
	// auto-revokes the oldest active registrations for the same tenant and
	// patient beyond the cap. The check-and-insert is atomic so concurrent
	// issuances cannot both slip past the cap. Returns the ids that were
	// auto-revoked, or ErrDuplicateTokenHash on a token hash collision.
	CreateWithCap(ctx context.Context, reg *PatientQrRegistration, maxActive int) ([]uuid.UUID, error)

	GetByID(ctx context.Context, id uuid.UUID) (*PatientQrRegistration, error)

	// GetByTokenHash is the scan-time lookup; it finds the row without
	// needing the decrypted payload, so lookups survive payload evolution.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PatientQrRegistration, error)

	ListByPatient(ctx context.Context, tenantID string, patientID uuid.UUID, limit, offset int) ([]*PatientQrRegistration, int, error)

	// Revoke performs the terminal transition. It is idempotent: revoking an
	// already-revoked registration returns the row unchanged with
	// alreadyRevoked=true. ErrNotFound when the id does not exist.
	Revoke(ctx context.Context, id uuid.UUID, reason, revokedByUserID string, at time.Time) (reg *PatientQrRegistration, alreadyRevoked bool, err error)
}
