package canonjson

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashWithDomain computes a hex SHA-256 digest with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MarshalAndHash canonicalizes v and hashes it under domain.
func MarshalAndHash(domain string, v Value) (string, error) {
	b, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return HashWithDomain(domain, b), nil
}
