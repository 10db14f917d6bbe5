package intent

import (
	"github.com/bpolania/DeltaNEAR-sub000/internal/canonjson"
)

// Fixed literals of the intent shape.
const (
	Version    = "1.0.0"
	IntentType = "derivatives"
)

// Constraint defaults and caps, in basis points.
const (
	DefaultMaxFeeBps       int64 = 30
	DefaultMaxFundingBps8h int64 = 50
	DefaultMaxSlippageBps  int64 = 100
	MaxFeeBpsCap           int64 = 100
	MaxFundingBps8hCap     int64 = 100
	MaxSlippageBpsCap      int64 = 1000
)

// DefaultLeverage applies when derivatives.leverage is absent.
const DefaultLeverage = "1"

const maxSignerIDLength = 64

// Instrument is the derivative kind.
type Instrument string

const (
	InstrumentPerp   Instrument = "perp"
	InstrumentOption Instrument = "option"
)

// Side is the trade direction.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideBuy   Side = "buy"
	SideSell  Side = "sell"
)

// Buys reports whether the side acquires exposure, so a lower price is better.
func (s Side) Buys() bool {
	return s == SideLong || s == SideBuy
}

// OptionKind is call or put.
type OptionKind string

const (
	OptionCall OptionKind = "call"
	OptionPut  OptionKind = "put"
)

// Chains accepted for collateral.
var Chains = []string{"near", "ethereum", "arbitrum", "base", "solana"}

// Intent is the canonical form of a derivatives intent.
// Every field holds its normalized value; Value and MarshalCanonical render it.
type Intent struct {
	Version     string      `json:"version"`
	IntentType  string      `json:"intent_type"`
	Derivatives Derivatives `json:"derivatives"`
	SignerID    string      `json:"signer_id"`
	Deadline    string      `json:"deadline"`
	Nonce       string      `json:"nonce"`
}

// Derivatives holds the trade parameters.
type Derivatives struct {
	Collateral  Collateral  `json:"collateral"`
	Constraints Constraints `json:"constraints"`
	Instrument  Instrument  `json:"instrument"`
	Leverage    string      `json:"leverage"`
	Option      *Option     `json:"option"`
	Side        Side        `json:"side"`
	Size        string      `json:"size"`
	Symbol      string      `json:"symbol"`
}

// Collateral identifies the settlement asset.
type Collateral struct {
	Chain string `json:"chain"`
	Token string `json:"token"`
}

// Constraints caps solver-side costs and restricts venues.
// An empty VenueAllowlist places no venue restriction.
type Constraints struct {
	MaxFeeBps       int64    `json:"max_fee_bps"`
	MaxFundingBps8h int64    `json:"max_funding_bps_8h"`
	MaxSlippageBps  int64    `json:"max_slippage_bps"`
	VenueAllowlist  []string `json:"venue_allowlist"`
}

// Option holds option-specific terms. Nil for perps.
type Option struct {
	Kind   OptionKind `json:"kind"`
	Strike string     `json:"strike"`
	Expiry string     `json:"expiry"`
}

// Value renders the intent as a canonjson value tree.
func (i *Intent) Value() canonjson.Object {
	venues := make(canonjson.Array, len(i.Derivatives.Constraints.VenueAllowlist))
	for n, v := range i.Derivatives.Constraints.VenueAllowlist {
		venues[n] = canonjson.String(v)
	}

	var option canonjson.Value = canonjson.Null{}
	if o := i.Derivatives.Option; o != nil {
		option = canonjson.Object{
			"expiry": canonjson.String(o.Expiry),
			"kind":   canonjson.String(o.Kind),
			"strike": canonjson.String(o.Strike),
		}
	}

	d := i.Derivatives
	return canonjson.Object{
		"version":     canonjson.String(i.Version),
		"intent_type": canonjson.String(i.IntentType),
		"signer_id":   canonjson.String(i.SignerID),
		"deadline":    canonjson.String(i.Deadline),
		"nonce":       canonjson.String(i.Nonce),
		"derivatives": canonjson.Object{
			"collateral": canonjson.Object{
				"chain": canonjson.String(d.Collateral.Chain),
				"token": canonjson.String(d.Collateral.Token),
			},
			"constraints": canonjson.Object{
				"max_fee_bps":        canonjson.Int(d.Constraints.MaxFeeBps),
				"max_funding_bps_8h": canonjson.Int(d.Constraints.MaxFundingBps8h),
				"max_slippage_bps":   canonjson.Int(d.Constraints.MaxSlippageBps),
				"venue_allowlist":    venues,
			},
			"instrument": canonjson.String(d.Instrument),
			"leverage":   canonjson.String(d.Leverage),
			"option":     option,
			"side":       canonjson.String(d.Side),
			"size":       canonjson.String(d.Size),
			"symbol":     canonjson.String(d.Symbol),
		},
	}
}

// MarshalCanonical returns the canonical bytes of the intent.
func (i *Intent) MarshalCanonical() ([]byte, error) {
	return canonjson.MarshalCanonical(i.Value())
}
