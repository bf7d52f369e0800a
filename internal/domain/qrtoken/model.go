package qrtoken

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PatientQrRegistration maps to the patient_qr_registration table. One row
// per issued token; rows are never physically deleted (compliance retention),
// and is_active=false is terminal.
type PatientQrRegistration struct {
	ID                      uuid.UUID  `db:"id" json:"id"`
	TenantID                string     `db:"tenant_id" json:"tenant_id"`
	PatientID               uuid.UUID  `db:"patient_id" json:"patient_id"`
	FHIRPatientID           *string    `db:"fhir_patient_id" json:"fhir_patient_id,omitempty"`
	MasterPatientIdentifier string     `db:"master_patient_identifier" json:"master_patient_identifier"`
	TokenCiphertext         string     `db:"token_ciphertext" json:"-"`
	TokenHash               string     `db:"token_hash" json:"-"`
	IssuedAt                time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt               *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	IsActive                bool       `db:"is_active" json:"is_active"`
	RevokedAt               *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevocationReason        *string    `db:"revocation_reason" json:"revocation_reason,omitempty"`
	RevokedByUserID         *string    `db:"revoked_by_user_id" json:"revoked_by_user_id,omitempty"`
	CreatedByUserID         string     `db:"created_by_user_id" json:"created_by_user_id"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
}

// Validate checks the row invariants before persistence.
func (r *PatientQrRegistration) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if r.TokenHash == "" {
		return fmt.Errorf("token_hash is required")
	}
	return nil
}

// Expired reports whether the registration has an expiry in the past
// relative to now.
func (r *PatientQrRegistration) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}
