package scanaudit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScanAuditRecord is one immutable row in the scan audit trail. Rows are
// written once per scan attempt and never deleted; only the usage fields may
// be amended afterwards.
type ScanAuditRecord struct {
	ID      uuid.UUID `json:"id" db:"id"`
	EventID string    `json:"event_id" db:"event_id"`

	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	RegistrationID *uuid.UUID `json:"registration_id,omitempty" db:"registration_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty" db:"patient_id"`

	ScannedAt       time.Time `json:"scanned_at" db:"scanned_at"`
	ScannedByUserID string    `json:"scanned_by_user_id" db:"scanned_by_user_id"`
	ScannedByRole   string    `json:"scanned_by_role,omitempty" db:"scanned_by_role"`
	AccessPurpose   string    `json:"access_purpose,omitempty" db:"access_purpose"`
	Allowed         bool      `json:"allowed" db:"allowed"`
	DenialReason    *string   `json:"denial_reason,omitempty" db:"denial_reason"`

	SourceIP  string `json:"source_ip,omitempty" db:"source_ip"`
	UserAgent string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceID  string `json:"device_id,omitempty" db:"device_id"`
	Location  string `json:"location,omitempty" db:"location"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`
	RequestID string `json:"request_id,omitempty" db:"request_id"`

	DataViews       []string `json:"data_views,omitempty" db:"data_views"`
	ExportPerformed bool     `json:"export_performed" db:"export_performed"`
	PrintPerformed  bool     `json:"print_performed" db:"print_performed"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (r *ScanAuditRecord) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if r.ScannedByUserID == "" {
		return fmt.Errorf("scanned_by_user_id is required")
	}
	if !r.Allowed && (r.DenialReason == nil || *r.DenialReason == "") {
		return fmt.Errorf("denial_reason is required for denied scans")
	}
	return nil
}

// UsageUpdate amends the post-scan usage fields of an existing record. Nil
// fields are left untouched; no other column of the record can be changed
// after the fact.
type UsageUpdate struct {
	DataViews       []string `json:"data_views,omitempty"`
	ExportPerformed *bool    `json:"export_performed,omitempty"`
	PrintPerformed  *bool    `json:"print_performed,omitempty"`
}

// Filter narrows audit queries. Zero values mean "any".
type Filter struct {
	PatientID      *uuid.UUID
	RegistrationID *uuid.UUID
	ScannedByUser  string
	Allowed        *bool
	From           *time.Time
	To             *time.Time
}
