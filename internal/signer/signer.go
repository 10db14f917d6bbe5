// Package signer verifies the signature a user attaches when accepting an
// auction's winning quote.
//
// Opaque treats the signature as a validated byte string produced by an
// external signing service. Secp256k1 recovers the signing key from an
// Ethereum-style recoverable signature and checks it against a key book.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

// DomainAccept separates acceptance digests from other signed payloads.
const DomainAccept = "deltanear/accept/v1"

// MaxOpaqueSignature bounds opaque signatures.
const MaxOpaqueSignature = 512

// ErrInvalidSignature is wrapped by every verification failure.
var ErrInvalidSignature = errors.New("invalid acceptance signature")

// Acceptance is a user's signed acceptance of an auction result.
type Acceptance struct {
	IntentHash intent.Hash
	SignerID   string
	Signature  []byte
}

// Verifier checks acceptance signatures.
type Verifier interface {
	Verify(a Acceptance) error
}

// Opaque accepts any non-empty signature up to MaxOpaqueSignature bytes.
type Opaque struct{}

func (Opaque) Verify(a Acceptance) error {
	if len(a.Signature) == 0 {
		return fmt.Errorf("%w: empty signature", ErrInvalidSignature)
	}
	if len(a.Signature) > MaxOpaqueSignature {
		return fmt.Errorf("%w: signature exceeds %d bytes", ErrInvalidSignature, MaxOpaqueSignature)
	}
	return nil
}

// Secp256k1 verifies recoverable secp256k1 signatures over AcceptanceDigest.
type Secp256k1 struct {
	keys map[string]common.Address
}

// NewSecp256k1 builds a verifier from signer_id to 0x address entries.
func NewSecp256k1(keys map[string]string) (*Secp256k1, error) {
	book := make(map[string]common.Address, len(keys))
	for id, addr := range keys {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("signer %s: invalid address %q", id, addr)
		}
		book[strings.ToLower(id)] = common.HexToAddress(addr)
	}
	return &Secp256k1{keys: book}, nil
}

func (v *Secp256k1) Verify(a Acceptance) error {
	want, ok := v.keys[a.SignerID]
	if !ok {
		return fmt.Errorf("%w: no key registered for %s", ErrInvalidSignature, a.SignerID)
	}
	if len(a.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(a.Signature))
	}
	pub, err := crypto.SigToPub(AcceptanceDigest(a.IntentHash), a.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != want {
		return fmt.Errorf("%w: recovered %s, want %s", ErrInvalidSignature, got.Hex(), want.Hex())
	}
	return nil
}

// AcceptanceDigest is keccak256(domain || 0x00 || intent hash).
func AcceptanceDigest(hash intent.Hash) []byte {
	return crypto.Keccak256([]byte(DomainAccept), []byte{0x00}, hash[:])
}

// Sign produces a recoverable signature over the acceptance digest.
func Sign(key *ecdsa.PrivateKey, hash intent.Hash) ([]byte, error) {
	return crypto.Sign(AcceptanceDigest(hash), key)
}
