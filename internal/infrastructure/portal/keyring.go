package portal

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const supplierKeySize = 32

// Keyring resolves the HMAC key of a supplier.
//
// An explicitly configured secret wins. Otherwise the key is derived from the
// master secret with HKDF-SHA256, using the supplier reference as info, so that
// both sides can compute it without a per-supplier secret store. Lookups are
// case-insensitive because configuration keys arrive lowercased.
type Keyring struct {
	master   []byte
	explicit map[string][]byte

	mu      sync.RWMutex
	derived map[string][]byte
}

// NewKeyring creates a keyring from a master secret and explicit per-supplier secrets
func NewKeyring(masterSecret string, supplierSecrets map[string]string) *Keyring {
	k := &Keyring{
		explicit: make(map[string][]byte, len(supplierSecrets)),
		derived:  make(map[string][]byte),
	}
	if masterSecret != "" {
		k.master = []byte(masterSecret)
	}
	for ref, secret := range supplierSecrets {
		if secret == "" {
			continue
		}
		k.explicit[strings.ToLower(ref)] = []byte(secret)
	}
	return k
}

// Key returns the signing key for supplierRef
func (k *Keyring) Key(supplierRef string) ([]byte, error) {
	if supplierRef == "" {
		return nil, fmt.Errorf("%w: empty supplier reference", ErrNoSigningKey)
	}
	id := strings.ToLower(supplierRef)
	if key, ok := k.explicit[id]; ok {
		return key, nil
	}
	if len(k.master) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSigningKey, supplierRef)
	}

	k.mu.RLock()
	key, ok := k.derived[id]
	k.mu.RUnlock()
	if ok {
		return key, nil
	}

	key = make([]byte, supplierKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.master, nil, []byte(id)), key); err != nil {
		return nil, fmt.Errorf("portal: failed to derive key for %s: %w", supplierRef, err)
	}

	k.mu.Lock()
	k.derived[id] = key
	k.mu.Unlock()
	return key, nil
}
