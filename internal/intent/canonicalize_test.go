package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalPerp = `{
  "version": "1.0.0",
  "intent_type": "derivatives",
  "derivatives": {
    "instrument": "perp",
    "symbol": "ETH-USD",
    "side": "long",
    "size": "1.5",
    "collateral": {"chain": "near", "token": "usdc.near"}
  },
  "signer_id": "alice.near",
  "deadline": "2024-12-31T23:59:59Z",
  "nonce": "1"
}`

const minimalPerpCanonical = `{"deadline":"2024-12-31T23:59:59Z","derivatives":{"collateral":{"chain":"near","token":"usdc.near"},"constraints":{"max_fee_bps":30,"max_funding_bps_8h":50,"max_slippage_bps":100,"venue_allowlist":[]},"instrument":"perp","leverage":"1","option":null,"side":"long","size":"1.5","symbol":"ETH-USD"},"intent_type":"derivatives","nonce":"1","signer_id":"alice.near","version":"1.0.0"}`

const minimalPerpHash = "5ea5e904bc23a61670fb0cf24e6acd51739f31805343dd855ac607c6622c90ec"

func TestNormalizeMinimalPerp(t *testing.T) {
	c, err := Normalize([]byte(minimalPerp))
	require.NoError(t, err)
	assert.Equal(t, minimalPerpCanonical, string(c.Bytes))
	assert.Equal(t, minimalPerpHash, c.Hash.String())
	assert.Nil(t, c.Intent.Derivatives.Option)
	assert.Equal(t, "1", c.Intent.Derivatives.Leverage)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{minimalPerp, fullOption}
	for _, in := range inputs {
		first, err := Normalize([]byte(in))
		require.NoError(t, err)
		second, err := Normalize(first.Bytes)
		require.NoError(t, err)
		assert.Equal(t, string(first.Bytes), string(second.Bytes))
		assert.Equal(t, first.Hash, second.Hash)
	}
}

func TestHashDeterministicAcrossFormatting(t *testing.T) {
	// Same intent: reordered keys, extra whitespace, trailing zeros,
	// millisecond timestamp, decomposed unicode in the token, mixed case.
	reformatted := "{\"nonce\":\"1\",\"deadline\":\"2024-12-31T23:59:59.999Z\",\n" +
		"  \"signer_id\":\"  Alice.NEAR \",\"intent_type\":\"derivatives\",\"version\":\"1.0.0\",\n" +
		"  \"derivatives\":{\"size\":\"1.50000\",\"side\":\"LONG\",\"symbol\":\"eth-usd\",\"leverage\":\"1.00\",\n" +
		"  \"instrument\":\" Perp \",\"collateral\":{\"token\":\"usdc.near\",\"chain\":\"NEAR\"},\n" +
		"  \"constraints\":{\"venue_allowlist\":[]}}}"

	a, err := Normalize([]byte(minimalPerp))
	require.NoError(t, err)
	b, err := Normalize([]byte(reformatted))
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, string(a.Bytes), string(b.Bytes))
}

func TestHashUnicodeDecomposition(t *testing.T) {
	composed := strings.Replace(minimalPerp, "usdc.near", "caf\u00e9.near", 1)
	decomposed := strings.Replace(minimalPerp, "usdc.near", "cafe\u0301.near", 1)

	a, err := Normalize([]byte(composed))
	require.NoError(t, err)
	b, err := Normalize([]byte(decomposed))
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, "caf\u00e9.near", b.Intent.Derivatives.Collateral.Token)
}

func TestHashChangesWithSemantics(t *testing.T) {
	a, err := Normalize([]byte(minimalPerp))
	require.NoError(t, err)
	b, err := Normalize([]byte(strings.Replace(minimalPerp, `"1.5"`, `"1.6"`, 1)))
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

const fullOption = `{
  "version": "1.0.0",
  "intent_type": "derivatives",
  "derivatives": {
    "instrument": "option",
    "symbol": "btc-usd",
    "side": "buy",
    "size": "0.25",
    "leverage": "2.50",
    "option": {"kind": "CALL", "strike": "65000.00", "expiry": "2025-03-28T08:00:00.000Z"},
    "collateral": {"chain": "arbitrum", "token": "0xAf88d065e77c8cC2239327C5EDb3A432268e5831"},
    "constraints": {
      "max_fee_bps": 20,
      "max_funding_bps_8h": 10,
      "max_slippage_bps": 50,
      "venue_allowlist": ["GMX-V2", " lyra ", "gmx-v2", "AEVO"]
    }
  },
  "signer_id": "Bob.NEAR",
  "deadline": "2025-01-01T00:00:00Z",
  "nonce": 42
}`

func TestCanonicalizeFullOption(t *testing.T) {
	in, err := Canonicalize([]byte(fullOption))
	require.NoError(t, err)

	d := in.Derivatives
	assert.Equal(t, InstrumentOption, d.Instrument)
	assert.Equal(t, "BTC-USD", d.Symbol)
	assert.Equal(t, SideBuy, d.Side)
	assert.Equal(t, "2.5", d.Leverage)
	require.NotNil(t, d.Option)
	assert.Equal(t, OptionCall, d.Option.Kind)
	assert.Equal(t, "65000", d.Option.Strike)
	assert.Equal(t, "2025-03-28T08:00:00Z", d.Option.Expiry)
	assert.Equal(t, "0xAf88d065e77c8cC2239327C5EDb3A432268e5831", d.Collateral.Token)
	assert.Equal(t, []string{"aevo", "gmx-v2", "lyra"}, d.Constraints.VenueAllowlist)
	assert.Equal(t, int64(20), d.Constraints.MaxFeeBps)
	assert.Equal(t, "bob.near", in.SignerID)
	assert.Equal(t, "42", in.Nonce)
}

func TestCanonicalizeVenueAllowlist(t *testing.T) {
	raw := strings.Replace(minimalPerp, `"collateral"`, `"constraints": {"venue_allowlist": ["GMX-V2", "gmx-v2", "AEVO"]}, "collateral"`, 1)
	in, err := Canonicalize([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"aevo", "gmx-v2"}, in.Derivatives.Constraints.VenueAllowlist)
}

func TestCanonicalizePerpForcesNullOption(t *testing.T) {
	raw := strings.Replace(minimalPerp, `"collateral"`, `"option": {"kind": "call"}, "collateral"`, 1)
	c, err := Normalize([]byte(raw))
	require.NoError(t, err)
	assert.Nil(t, c.Intent.Derivatives.Option)
	assert.Equal(t, minimalPerpHash, c.Hash.String())
}

func TestCanonicalizeRejections(t *testing.T) {
	replace := func(old, new string) string { return strings.Replace(minimalPerp, old, new, 1) }

	tests := []struct {
		name   string
		raw    string
		reason Reason
		path   string
	}{
		{"unknown root field", replace(`"nonce": "1"`, `"nonce": "1", "memo": "x"`), ReasonUnknownField, "memo"},
		{"unknown derivatives field", replace(`"side": "long"`, `"side": "long", "tp": "1"`), ReasonUnknownField, "derivatives.tp"},
		{"unknown collateral field", replace(`"token": "usdc.near"`, `"token": "usdc.near", "amount": "5"`), ReasonUnknownField, "derivatives.collateral.amount"},
		{"unknown constraint field", replace(`"collateral"`, `"constraints": {"max_gas": 1}, "collateral"`), ReasonUnknownField, "derivatives.constraints.max_gas"},
		{"unknown beats missing", replace(`"nonce": "1"`, `"nonse": "1"`), ReasonUnknownField, "nonse"},
		{"missing root field", strings.Replace(minimalPerp, ",\n  \"nonce\": \"1\"", "", 1), ReasonMissingField, "nonce"},
		{"missing instrument", replace(`"instrument": "perp",`, ``), ReasonMissingField, "derivatives.instrument"},
		{"missing option terms", replace(`"instrument": "perp"`, `"instrument": "option"`), ReasonMissingField, "derivatives.option"},
		{"precision exceeded", replace(`"1.5"`, `"0.000000001"`), ReasonPrecisionExceeded, "derivatives.size"},
		{"scientific notation", replace(`"1.5"`, `"1e6"`), ReasonScientificNotationRejected, "derivatives.size"},
		{"scientific notation number", replace(`"1.5"`, `1E2`), ReasonScientificNotationRejected, "derivatives.size"},
		{"leading zero", replace(`"1.5"`, `"00.5"`), ReasonLeadingZeroRejected, "derivatives.size"},
		{"negative size", replace(`"1.5"`, `"-1"`), ReasonNegativeSignRejected, "derivatives.size"},
		{"positive sign", replace(`"1.5"`, `"+1"`), ReasonPositiveSignRejected, "derivatives.size"},
		{"size too large", replace(`"1.5"`, `"1000001"`), ReasonOutOfRange, "derivatives.size"},
		{"size zero", replace(`"1.5"`, `"0"`), ReasonOutOfRange, "derivatives.size"},
		{"leverage too large", replace(`"side": "long"`, `"side": "long", "leverage": "101"`), ReasonOutOfRange, "derivatives.leverage"},
		{"not a decimal", replace(`"1.5"`, `"1.5.0"`), ReasonInvalidDecimal, "derivatives.size"},
		{"size wrong type", replace(`"1.5"`, `true`), ReasonInvalidType, "derivatives.size"},
		{"bad side", replace(`"long"`, `"up"`), ReasonInvalidEnum, "derivatives.side"},
		{"bad instrument", replace(`"perp"`, `"future"`), ReasonInvalidEnum, "derivatives.instrument"},
		{"bad chain", replace(`"near"`, `"polygon"`), ReasonInvalidEnum, "derivatives.collateral.chain"},
		{"bad version", replace(`"1.0.0"`, `"2.0.0"`), ReasonInvalidEnum, "version"},
		{"bad intent type", replace(`"intent_type": "derivatives"`, `"intent_type": "spot"`), ReasonInvalidEnum, "intent_type"},
		{"symbol without dash", replace(`"ETH-USD"`, `"ETHUSD"`), ReasonInvalidFormat, "derivatives.symbol"},
		{"empty signer", replace(`"alice.near"`, `"  "`), ReasonInvalidFormat, "signer_id"},
		{"offset timestamp", replace(`"2024-12-31T23:59:59Z"`, `"2024-12-31T23:59:59+01:00"`), ReasonBadTimestamp, "deadline"},
		{"offset before Z", replace(`"2024-12-31T23:59:59Z"`, `"2024-12-31T23:59:59-01:00Z"`), ReasonBadTimestamp, "deadline"},
		{"date only", replace(`"2024-12-31T23:59:59Z"`, `"2024-12-31Z"`), ReasonBadTimestamp, "deadline"},
		{"year out of range", replace(`"2024-12-31T23:59:59Z"`, `"2150-01-01T00:00:00Z"`), ReasonBadTimestamp, "deadline"},
		{"impossible date", replace(`"2024-12-31T23:59:59Z"`, `"2024-02-30T00:00:00Z"`), ReasonBadTimestamp, "deadline"},
		{"fee cap", replace(`"collateral"`, `"constraints": {"max_fee_bps": 101}, "collateral"`), ReasonOutOfRange, "derivatives.constraints.max_fee_bps"},
		{"slippage cap", replace(`"collateral"`, `"constraints": {"max_slippage_bps": 1001}, "collateral"`), ReasonOutOfRange, "derivatives.constraints.max_slippage_bps"},
		{"fractional bps", replace(`"collateral"`, `"constraints": {"max_fee_bps": 1.5}, "collateral"`), ReasonInvalidType, "derivatives.constraints.max_fee_bps"},
		{"venue not string", replace(`"collateral"`, `"constraints": {"venue_allowlist": ["gmx", 3]}, "collateral"`), ReasonInvalidType, "derivatives.constraints.venue_allowlist[1]"},
		{"duplicate key", replace(`"nonce": "1"`, `"nonce": "1", "nonce": "2"`), ReasonDuplicateField, "nonce"},
		{"malformed json", `{"version": `, ReasonMalformedJSON, ""},
		{"root not object", `[]`, ReasonInvalidType, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize([]byte(tt.raw))
			require.Error(t, err)
			r, ok := AsRejection(err)
			require.True(t, ok, "expected Rejection, got %T: %v", err, err)
			assert.Equal(t, tt.reason, r.Reason, r.Error())
			assert.Equal(t, tt.path, r.Path)
			assert.True(t, IsRejection(err, tt.reason))
		})
	}
}

func TestParseHash(t *testing.T) {
	h, err := ParseHash(minimalPerpHash)
	require.NoError(t, err)
	assert.Equal(t, minimalPerpHash, h.String())

	_, err = ParseHash("abc")
	require.Error(t, err)
	_, err = ParseHash(strings.Repeat("zz", 32))
	require.Error(t, err)

	var decoded Hash
	require.NoError(t, decoded.UnmarshalText([]byte(minimalPerpHash)))
	assert.Equal(t, h, decoded)
	assert.False(t, decoded.IsZero())
}
