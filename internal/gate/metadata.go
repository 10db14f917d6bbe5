package gate

import (
	"github.com/bpolania/DeltaNEAR-sub000/internal/canonjson"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

// DomainMetadata separates metadata checksums from every other digest.
const DomainMetadata = "deltanear/metadata/v1"

// Metadata is what the winning solver is instructed to act on.
type Metadata struct {
	IntentHash intent.Hash
	SolverID   string
	Venue      string
	Chain      string
	Price      string
	Size       string
	FeeBps     int64
}

// Checksum binds the metadata: SHA256(domain + 0x00 + canonical JSON), hex.
func (m Metadata) Checksum() string {
	obj := canonjson.Object{
		"intent_hash": canonjson.String(m.IntentHash.String()),
		"solver_id":   canonjson.String(m.SolverID),
		"venue":       canonjson.String(m.Venue),
		"chain":       canonjson.String(m.Chain),
		"price":       canonjson.String(m.Price),
		"size":        canonjson.String(m.Size),
		"fee_bps":     canonjson.Int(m.FeeBps),
	}
	// Only String and Int values, so marshaling cannot fail.
	sum, _ := canonjson.MarshalAndHash(DomainMetadata, obj)
	return sum
}
