package qrtoken

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/healthmesh/healthmesh/internal/platform/telemetry"
)

// hashRetries bounds regeneration attempts when a freshly minted token
// collides on token_hash. Collisions require a SHA-256 collision or an IV
// reuse, so more than one retry should never happen in practice.
const hashRetries = 3

type Service struct {
	repo  RegistrationRepository
	codec *Codec

	defaultTTL time.Duration
	maxActive  int
	now        func() time.Time
}

func NewService(repo RegistrationRepository, codec *Codec, defaultTTL time.Duration, maxActive int) *Service {
	return &Service{
		repo:       repo,
		codec:      codec,
		defaultTTL: defaultTTL,
		maxActive:  maxActive,
		now:        time.Now,
	}
}

// IssueRequest carries the caller-supplied parameters for minting a new
// registration. Zero-value optional fields fall back to service defaults.
type IssueRequest struct {
	TenantID                string
	PatientID               uuid.UUID
	FHIRPatientID           *string
	MasterPatientIdentifier string
	CreatedByUserID         string

	// ExpiresInSeconds overrides the default TTL when non-nil. A zero or
	// negative value produces a registration that is already expired.
	ExpiresInSeconds *int64

	// MaxConcurrentActive overrides the service-wide cap when non-nil.
	// Zero disables the cap for this issuance.
	MaxConcurrentActive *int
}

type IssueResult struct {
	Registration *PatientQrRegistration `json:"registration"`
	Token        string                 `json:"token"`
	AutoRevoked  []uuid.UUID            `json:"auto_revoked,omitempty"`
}

func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if req.MasterPatientIdentifier == "" {
		return nil, fmt.Errorf("master_patient_identifier is required")
	}

	now := s.now().UTC()

	var expiresAt *time.Time
	if req.ExpiresInSeconds != nil {
		t := now.Add(time.Duration(*req.ExpiresInSeconds) * time.Second)
		expiresAt = &t
	} else if s.defaultTTL > 0 {
		t := now.Add(s.defaultTTL)
		expiresAt = &t
	}

	maxActive := s.maxActive
	if req.MaxConcurrentActive != nil {
		maxActive = *req.MaxConcurrentActive
	}
	if maxActive < 0 {
		return nil, fmt.Errorf("max_concurrent_active must not be negative")
	}

	payload := Payload{
		PatientID:               req.PatientID,
		MasterPatientIdentifier: req.MasterPatientIdentifier,
		TenantID:                req.TenantID,
		IssuedAt:                now.Unix(),
	}

	var lastErr error
	for attempt := 0; attempt < hashRetries; attempt++ {
		token, err := s.codec.Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding token: %w", err)
		}

		reg := &PatientQrRegistration{
			ID:                      uuid.New(),
			TenantID:                req.TenantID,
			PatientID:               req.PatientID,
			FHIRPatientID:           req.FHIRPatientID,
			MasterPatientIdentifier: req.MasterPatientIdentifier,
			TokenCiphertext:         token,
			TokenHash:               HashToken(token),
			IssuedAt:                now,
			ExpiresAt:               expiresAt,
			IsActive:                true,
			CreatedByUserID:         req.CreatedByUserID,
		}
		if err := reg.Validate(); err != nil {
			return nil, err
		}

		autoRevoked, err := s.repo.CreateWithCap(ctx, reg, maxActive)
		if errors.Is(err, ErrDuplicateTokenHash) {
			lastErr = err
			log.Warn().Str("tenant_id", req.TenantID).Int("attempt", attempt+1).
				Msg("token hash collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}

		telemetry.ObserveIssued()
		for range autoRevoked {
			telemetry.ObserveRevoked()
		}
		reg.CreatedAt = now
		return &IssueResult{Registration: reg, Token: token, AutoRevoked: autoRevoked}, nil
	}
	return nil, fmt.Errorf("issuing registration: %w", lastErr)
}

// Revoke marks a registration inactive. Revocation is terminal and
// idempotent: revoking an already-revoked registration reports the existing
// state without modifying it.
func (s *Service) Revoke(ctx context.Context, tenantID string, id uuid.UUID, reason, revokedByUserID string) (*PatientQrRegistration, bool, error) {
	reg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if reg.TenantID != tenantID {
		return nil, false, ErrNotFound
	}

	reg, alreadyRevoked, err := s.repo.Revoke(ctx, id, reason, revokedByUserID, s.now().UTC())
	if err != nil {
		return nil, false, err
	}
	if !alreadyRevoked {
		telemetry.ObserveRevoked()
	}
	return reg, alreadyRevoked, nil
}

func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*PatientQrRegistration, error) {
	reg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return reg, nil
}

func (s *Service) ListByPatient(ctx context.Context, tenantID string, patientID uuid.UUID, limit, offset int) ([]*PatientQrRegistration, int, error) {
	return s.repo.ListByPatient(ctx, tenantID, patientID, limit, offset)
}

// HashToken derives the scan-time lookup key for a token. The hash is
// stored in place of the raw token so the table never indexes token material
// directly.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
