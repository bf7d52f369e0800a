package qrtoken

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/healthmesh/healthmesh/internal/platform/auth"
	"github.com/healthmesh/healthmesh/internal/platform/telemetry"
)

// ScanContext describes a single scan attempt as presented at the API edge.
type ScanContext struct {
	Token    string
	TenantID string
	UserID   string
	Roles    []string

	// Purpose is the caller's declared reason for resolving the token. It is
	// recorded verbatim on the audit row.
	Purpose string

	SourceIP  string
	UserAgent string
	DeviceID  string
	Location  string
	SessionID string
	RequestID string
}

// ScanDecision is the validator's verdict. When Allowed is false, Message
// carries the only text that may be shown to the scanning client; Reason is
// for audit and operators.
type ScanDecision struct {
	Allowed      bool                    `json:"allowed"`
	Reason       DenialReason            `json:"-"`
	Message      string                  `json:"message,omitempty"`
	Registration *PatientQrRegistration  `json:"registration,omitempty"`
	Payload      *Payload                `json:"payload,omitempty"`
	AuditID      uuid.UUID               `json:"audit_id,omitempty"`
}

// AuditEntry is the validator's view of a scan audit record. The audit
// domain adapts this into its own storage model.
type AuditEntry struct {
	TenantID       string
	RegistrationID *uuid.UUID
	PatientID      *uuid.UUID
	ScannedAt      time.Time
	ScannedByUser  string
	ScannedByRole  string
	AccessPurpose  string
	Allowed        bool
	DenialReason   DenialReason
	SourceIP       string
	UserAgent      string
	DeviceID       string
	Location       string
	SessionID      string
	RequestID      string
}

// AuditRecorder persists one entry per scan attempt. Implementations must
// return an error when the write did not durably land.
type AuditRecorder interface {
	RecordScan(ctx context.Context, entry AuditEntry) (uuid.UUID, error)
}

// ScanValidator runs the fixed decision pipeline for presented tokens.
// Every attempt, allowed or denied, produces exactly one audit entry; an
// attempt whose grant cannot be audited is not granted.
type ScanValidator struct {
	repo    RegistrationRepository
	codec   *Codec
	audit   AuditRecorder
	allowed []string
	now     func() time.Time
}

// DefaultScanRoles are the clinical roles permitted to resolve a token when
// no explicit list is configured.
var DefaultScanRoles = []string{"physician", "nurse", "clinician", "admin"}

func NewScanValidator(repo RegistrationRepository, codec *Codec, audit AuditRecorder, allowedRoles []string) *ScanValidator {
	if len(allowedRoles) == 0 {
		allowedRoles = DefaultScanRoles
	}
	return &ScanValidator{
		repo:    repo,
		codec:   codec,
		audit:   audit,
		allowed: allowedRoles,
		now:     time.Now,
	}
}

// Validate resolves a presented token to a patient identity. The pipeline
// is ordered so that cheap syntactic checks run before any database access,
// and so that a token's existence is never revealed to a caller from the
// wrong tenant or without a permitted role.
func (v *ScanValidator) Validate(ctx context.Context, scan ScanContext) ScanDecision {
	now := v.now().UTC()

	deny := func(reason DenialReason, reg *PatientQrRegistration) ScanDecision {
		return v.finish(ctx, scan, now, ScanDecision{
			Allowed: false,
			Reason:  reason,
			Message: GenericDenialMessage,
		}, reg)
	}

	if err := CheckFormat(scan.Token); err != nil {
		return deny(DenialInvalidFormat, nil)
	}

	payload, err := v.codec.Decode(scan.Token)
	if err != nil {
		if errors.Is(err, ErrInvalidFormat) {
			return deny(DenialInvalidFormat, nil)
		}
		return deny(DenialAuthenticationFailure, nil)
	}

	reg, err := v.repo.GetByTokenHash(ctx, HashToken(scan.Token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return deny(DenialUnknownToken, nil)
		}
		log.Error().Err(err).Msg("registration lookup failed during scan")
		return deny(DenialUnknownToken, nil)
	}

	// Revocation wins over expiry when both hold.
	if !reg.IsActive {
		return deny(DenialTokenRevoked, reg)
	}
	if reg.Expired(now) {
		return deny(DenialTokenExpired, reg)
	}

	if reg.TenantID != scan.TenantID {
		return deny(DenialTenantMismatch, reg)
	}

	permitted := false
	for _, role := range v.allowed {
		if auth.HasRole(scan.Roles, role) {
			permitted = true
			break
		}
	}
	if !permitted {
		return deny(DenialInsufficientRole, reg)
	}

	return v.finish(ctx, scan, now, ScanDecision{
		Allowed:      true,
		Registration: reg,
		Payload:      &payload,
	}, reg)
}

// scannedRole picks the role recorded on the audit row: the first of the
// caller's roles this validator accepts, otherwise the first role listed.
func (v *ScanValidator) scannedRole(roles []string) string {
	for _, have := range roles {
		for _, want := range v.allowed {
			if have == want {
				return have
			}
		}
	}
	if len(roles) > 0 {
		return roles[0]
	}
	return ""
}

// finish records the audit entry and returns the final decision. A grant
// whose audit write fails is downgraded to a denial; denials are returned
// as-is even when their audit write fails, since denying is already the
// safe outcome.
func (v *ScanValidator) finish(ctx context.Context, scan ScanContext, now time.Time, decision ScanDecision, reg *PatientQrRegistration) ScanDecision {
	entry := AuditEntry{
		TenantID:      scan.TenantID,
		ScannedAt:     now,
		ScannedByUser: scan.UserID,
		ScannedByRole: v.scannedRole(scan.Roles),
		AccessPurpose: scan.Purpose,
		Allowed:       decision.Allowed,
		DenialReason:  decision.Reason,
		SourceIP:      scan.SourceIP,
		UserAgent:     scan.UserAgent,
		DeviceID:      scan.DeviceID,
		Location:      scan.Location,
		SessionID:     scan.SessionID,
		RequestID:     scan.RequestID,
	}
	if reg != nil {
		entry.RegistrationID = &reg.ID
		entry.PatientID = &reg.PatientID
	}

	auditID, err := v.audit.RecordScan(ctx, entry)
	if err != nil {
		telemetry.ObserveAuditFailure()
		log.Error().Err(err).Bool("allowed", decision.Allowed).
			Msg("scan audit write failed")

		if decision.Allowed {
			entry.Allowed = false
			entry.DenialReason = DenialAuditUnavailable
			// Best effort: the store that just failed will likely fail
			// again, but the downgraded denial should still be recorded
			// when it recovers mid-request.
			if id, retryErr := v.audit.RecordScan(ctx, entry); retryErr == nil {
				auditID = id
			}
			decision = ScanDecision{
				Allowed: false,
				Reason:  DenialAuditUnavailable,
				Message: GenericDenialMessage,
			}
		}
	}

	decision.AuditID = auditID
	if decision.Allowed {
		telemetry.ObserveScanDecision(telemetry.ScanOutcomeGranted)
	} else {
		telemetry.ObserveScanDecision(string(decision.Reason))
	}
	return decision
}
