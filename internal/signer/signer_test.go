package signer

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

func TestOpaque(t *testing.T) {
	v := Opaque{}
	assert.NoError(t, v.Verify(Acceptance{Signature: []byte("sig")}))
	assert.ErrorIs(t, v.Verify(Acceptance{}), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(Acceptance{Signature: bytes.Repeat([]byte{1}, MaxOpaqueSignature+1)}), ErrInvalidSignature)
}

func TestSecp256k1(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	v, err := NewSecp256k1(map[string]string{"Alice.near": crypto.PubkeyToAddress(key.PublicKey).Hex()})
	require.NoError(t, err)

	h := intent.Hash{0xab}
	sig, err := Sign(key, h)
	require.NoError(t, err)
	require.NoError(t, v.Verify(Acceptance{IntentHash: h, SignerID: "alice.near", Signature: sig}))

	forged, err := Sign(other, h)
	require.NoError(t, err)

	tests := []struct {
		name string
		a    Acceptance
	}{
		{"wrong key", Acceptance{IntentHash: h, SignerID: "alice.near", Signature: forged}},
		{"wrong hash", Acceptance{IntentHash: intent.Hash{0xcd}, SignerID: "alice.near", Signature: sig}},
		{"unknown signer", Acceptance{IntentHash: h, SignerID: "bob.near", Signature: sig}},
		{"short signature", Acceptance{IntentHash: h, SignerID: "alice.near", Signature: sig[:64]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, v.Verify(tt.a), ErrInvalidSignature)
		})
	}
}

func TestNewSecp256k1RejectsBadAddress(t *testing.T) {
	_, err := NewSecp256k1(map[string]string{"alice.near": "not-an-address"})
	assert.Error(t, err)
}
