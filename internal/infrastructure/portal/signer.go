package portal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/erp/procurement/internal/domain/procurement"
)

// Portal message headers
const (
	HeaderSignature     = "X-Portal-Signature"
	HeaderTimestamp     = "X-Portal-Timestamp"
	HeaderSupplier      = "X-Portal-Supplier"
	HeaderMessageID     = "X-Portal-Message-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderReplay        = "X-Idempotent-Replay"
)

// Sign computes the hex HMAC-SHA256 of timestamp + "." + body
func Sign(key []byte, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verifier authenticates inbound portal messages against the keyring
type Verifier struct {
	keys *Keyring
}

// NewVerifier creates a new Verifier
func NewVerifier(keys *Keyring) *Verifier {
	return &Verifier{keys: keys}
}

// Verify checks the signature in constant time. Timestamp freshness is the
// receiver's concern; the timestamp only takes part in the MAC here.
func (v *Verifier) Verify(supplierRef, timestamp string, body []byte, signature string) error {
	if signature == "" || timestamp == "" {
		return procurement.ErrInvalidSignature.With("supplier_ref", supplierRef).With("reason", "missing signature headers")
	}
	key, err := v.keys.Key(supplierRef)
	if err != nil {
		if errors.Is(err, ErrNoSigningKey) {
			return procurement.ErrInvalidSignature.With("supplier_ref", supplierRef).With("reason", "unknown supplier")
		}
		return err
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return procurement.ErrInvalidSignature.With("supplier_ref", supplierRef).With("reason", "signature is not hex")
	}
	want, _ := hex.DecodeString(Sign(key, timestamp, body))
	if !hmac.Equal(got, want) {
		return procurement.ErrInvalidSignature.With("supplier_ref", supplierRef)
	}
	return nil
}

var _ procurement.SignatureVerifier = (*Verifier)(nil)
