package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash is the SHA-256 digest of an intent's canonical bytes. It is the sole
// identity key of an intent: no clock or connection state ever enters it.
type Hash [32]byte

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64 character hex digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(len(h)) {
		return h, fmt.Errorf("intent hash must be %d hex characters, got %d", hex.EncodedLen(len(h)), len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("intent hash: %w", err)
	}
	return h, nil
}

// HashBytes hashes canonical bytes. No domain prefix is applied, so the
// digest matches a plain SHA-256 of the canonical document.
func HashBytes(canonical []byte) Hash {
	return sha256.Sum256(canonical)
}

// HashIntent computes the identity of a canonical intent.
func HashIntent(i *Intent) (Hash, error) {
	b, err := i.MarshalCanonical()
	if err != nil {
		return Hash{}, fmt.Errorf("HashIntent: failed to marshal: %w", err)
	}
	return HashBytes(b), nil
}

// Canonical bundles a canonical intent with its bytes and hash.
type Canonical struct {
	Intent *Intent
	Bytes  []byte
	Hash   Hash
}

// Normalize canonicalizes raw JSON and hashes the result.
func Normalize(raw []byte) (*Canonical, error) {
	in, err := Canonicalize(raw)
	if err != nil {
		return nil, err
	}
	b, err := in.MarshalCanonical()
	if err != nil {
		return nil, fmt.Errorf("Normalize: failed to marshal: %w", err)
	}
	return &Canonical{Intent: in, Bytes: b, Hash: HashBytes(b)}, nil
}
