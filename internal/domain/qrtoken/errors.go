package qrtoken

import "errors"

// DenialReason identifies why a scan was denied. The specific reason is
// recorded in the audit trail only; clients always receive GenericDenialMessage
// so that error responses cannot be used to probe token validity.
type DenialReason string

const (
	DenialInvalidFormat         DenialReason = "invalid_format"
	DenialAuthenticationFailure DenialReason = "authentication_failure"
	DenialUnknownToken          DenialReason = "unknown_token"
	DenialTokenExpired          DenialReason = "token_expired"
	DenialTokenRevoked          DenialReason = "token_revoked"
	DenialTenantMismatch        DenialReason = "tenant_mismatch"
	DenialInsufficientRole      DenialReason = "insufficient_role"
	DenialAuditUnavailable      DenialReason = "audit_unavailable"
)

// GenericDenialMessage is the only denial text that crosses the trust boundary.
const GenericDenialMessage = "invalid or inaccessible QR code"

var (
	// ErrInvalidFormat is returned when a token fails the syntactic checks
	// before any cryptographic work is attempted.
	ErrInvalidFormat = errors.New("qrtoken: invalid token format")

	// ErrAuthenticationFailure is returned when AEAD decryption or tag
	// verification fails. It deliberately does not say which.
	ErrAuthenticationFailure = errors.New("qrtoken: token authentication failed")

	// ErrInvalidKey indicates the encryption key is absent or not 32 bytes.
	// This is a configuration fault; the server refuses to boot on it.
	ErrInvalidKey = errors.New("qrtoken: encryption key must be 32 bytes")

	// ErrNotFound is returned when a registration id does not exist.
	ErrNotFound = errors.New("qrtoken: registration not found")

	// ErrDuplicateTokenHash is returned when an insert collides on the token
	// hash unique index. The issuer reacts by regenerating the token.
	ErrDuplicateTokenHash = errors.New("qrtoken: token hash already exists")
)
