package qrtoken

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Payload is the structured content sealed inside a wire token. Fields are
// comparable so Decode(Encode(p)) == p holds exactly.
type Payload struct {
	PatientID               uuid.UUID `json:"pid"`
	MasterPatientIdentifier string    `json:"mpi"`
	TenantID                string    `json:"tid"`
	IssuedAt                int64     `json:"iat"` // unix seconds
}

// Wire format: "v1:" + hex(ciphertext) + ":" + hex(iv) + ":" + hex(authTag).
const (
	wireVersion    = "v1"
	wireSegments   = 4
	minTokenLength = 50
	maxTokenLength = 2000
)

var hexSegment = regexp.MustCompile(`^[a-fA-F0-9]+$`)

// CheckFormat runs the syntactic checks on a raw token string without doing
// any cryptographic work: version prefix, segment count, hex segments, and
// total length bounds. The scan validator calls this again even though Decode
// repeats it; the server never trusts that a client pre-validated.
func CheckFormat(token string) error {
	if len(token) < minTokenLength || len(token) > maxTokenLength {
		return ErrInvalidFormat
	}
	parts := strings.Split(token, ":")
	if len(parts) != wireSegments || parts[0] != wireVersion {
		return ErrInvalidFormat
	}
	for _, seg := range parts[1:] {
		if !hexSegment.MatchString(seg) {
			return ErrInvalidFormat
		}
	}
	return nil
}

// Codec seals token payloads with AES-256-GCM. It holds its key material for
// the process lifetime; services receive it by reference rather than through
// any global initialization state.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a Codec from a 32-byte AES-256 key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("qrtoken codec: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("qrtoken codec: create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encode seals the payload into an opaque wire token. A fresh random nonce is
// drawn per call, so repeated encodings of the same payload never produce the
// same token and re-issuances cannot be correlated.
func (c *Codec) Encode(p Payload) (string, error) {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("qrtoken encode: marshal payload: %w", err)
	}

	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("qrtoken encode: generate nonce: %w", err)
	}

	// Seal returns ciphertext || tag; the wire format carries them separately.
	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	tagSize := c.aead.Overhead()
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return wireVersion + ":" +
		hex.EncodeToString(ciphertext) + ":" +
		hex.EncodeToString(iv) + ":" +
		hex.EncodeToString(tag), nil
}

// Decode opens a wire token back into its payload. It returns
// ErrInvalidFormat for anything that fails the syntactic checks and
// ErrAuthenticationFailure when decryption or tag verification fails --
// without distinguishing which part was bad.
func (c *Codec) Decode(token string) (Payload, error) {
	if err := CheckFormat(token); err != nil {
		return Payload{}, err
	}

	parts := strings.Split(token, ":")
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return Payload{}, ErrInvalidFormat
	}
	iv, err := hex.DecodeString(parts[2])
	if err != nil {
		return Payload{}, ErrInvalidFormat
	}
	tag, err := hex.DecodeString(parts[3])
	if err != nil {
		return Payload{}, ErrInvalidFormat
	}

	if len(iv) != c.aead.NonceSize() {
		return Payload{}, ErrAuthenticationFailure
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return Payload{}, ErrAuthenticationFailure
	}

	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return Payload{}, ErrAuthenticationFailure
	}
	return p, nil
}
