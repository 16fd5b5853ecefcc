package receipts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Receipts double as proof documents for offline disputes, so signatures
// stay valid long after settlement.
const signatureValidity = 30 * 24 * time.Hour

// Signer signs receipt payloads with HMAC-SHA256 over canonical JSON.
// A nil Signer disables signing; Sign and Verify are nil-safe.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer from the configured key. An empty key returns
// nil, which downgrades receipts to unsigned.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) mac(payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, s.secret)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Sign computes the signature and validity window for a receipt payload.
func (s *Signer) Sign(payload interface{}) (signature, issuedAt, expiresAt string, err error) {
	if s == nil {
		return "", "", "", nil
	}
	sig, err := s.mac(payload)
	if err != nil {
		return "", "", "", err
	}
	now := time.Now().UTC()
	return sig, now.Format(time.RFC3339), now.Add(signatureValidity).Format(time.RFC3339), nil
}

// Verify checks a signature against the canonical JSON of payload.
func (s *Signer) Verify(payload interface{}, signature string) bool {
	if s == nil {
		return false
	}
	expected, err := s.mac(payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
