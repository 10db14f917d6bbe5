package intent

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/bpolania/DeltaNEAR-sub000/internal/canonjson"
)

// fieldSet is the closed key set allowed at one object level.
type fieldSet struct {
	required []string
	optional []string
}

func (fs fieldSet) allows(key string) bool {
	return slices.Contains(fs.required, key) || slices.Contains(fs.optional, key)
}

var (
	rootFields = fieldSet{
		required: []string{"deadline", "derivatives", "intent_type", "nonce", "signer_id", "version"},
	}
	derivativesFields = fieldSet{
		required: []string{"collateral", "instrument", "side", "size", "symbol"},
		optional: []string{"constraints", "leverage", "option"},
	}
	collateralFields  = fieldSet{required: []string{"chain", "token"}}
	optionFields      = fieldSet{required: []string{"expiry", "kind", "strike"}}
	constraintsFields = fieldSet{
		optional: []string{"max_fee_bps", "max_funding_bps_8h", "max_slippage_bps", "venue_allowlist"},
	}
)

// Canonicalize parses raw JSON and returns the canonical intent.
// Any failure is a *Rejection.
func Canonicalize(raw []byte) (*Intent, error) {
	v, err := canonjson.Decode(raw)
	if err != nil {
		var de *canonjson.DecodeError
		if errors.As(err, &de) && de.Kind == canonjson.DecodeDuplicateKey {
			return nil, reject(ReasonDuplicateField, de.Path, "%s", de.Message)
		}
		return nil, reject(ReasonMalformedJSON, "", "%v", err)
	}
	return CanonicalizeValue(v)
}

// CanonicalizeValue canonicalizes an already decoded value.
// Strings are expected to be NFC normalized, as canonjson.Decode returns them.
func CanonicalizeValue(v canonjson.Value) (*Intent, error) {
	root, err := asObject("", v)
	if err != nil {
		return nil, err
	}
	if err := checkFields(root, "", rootFields); err != nil {
		return nil, err
	}

	out := &Intent{}
	if out.Deadline, err = timestampField(root, "", "deadline"); err != nil {
		return nil, err
	}
	if out.Derivatives, err = canonicalizeDerivatives("derivatives", root["derivatives"]); err != nil {
		return nil, err
	}

	intentType, err := stringField(root, "", "intent_type")
	if err != nil {
		return nil, err
	}
	if intentType != IntentType {
		return nil, reject(ReasonInvalidEnum, "intent_type", "must be %q, got %q", IntentType, intentType)
	}
	out.IntentType = intentType

	if out.Nonce, err = canonicalNonce(root["nonce"]); err != nil {
		return nil, err
	}

	signer, err := stringField(root, "", "signer_id")
	if err != nil {
		return nil, err
	}
	signer = lower(signer)
	if signer == "" || len(signer) > maxSignerIDLength {
		return nil, reject(ReasonInvalidFormat, "signer_id", "length must be 1..%d bytes", maxSignerIDLength)
	}
	out.SignerID = signer

	version, err := stringField(root, "", "version")
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, reject(ReasonInvalidEnum, "version", "must be %q, got %q", Version, version)
	}
	out.Version = version

	return out, nil
}

func canonicalizeDerivatives(path string, v canonjson.Value) (Derivatives, error) {
	var d Derivatives
	obj, err := asObject(path, v)
	if err != nil {
		return d, err
	}
	if err := checkFields(obj, path, derivativesFields); err != nil {
		return d, err
	}

	if d.Collateral, err = canonicalizeCollateral(canonjson.JoinKey(path, "collateral"), obj["collateral"]); err != nil {
		return d, err
	}
	if d.Constraints, err = canonicalizeConstraints(canonjson.JoinKey(path, "constraints"), obj["constraints"]); err != nil {
		return d, err
	}

	instrument, err := stringField(obj, path, "instrument")
	if err != nil {
		return d, err
	}
	d.Instrument = Instrument(lower(instrument))
	if d.Instrument != InstrumentPerp && d.Instrument != InstrumentOption {
		return d, reject(ReasonInvalidEnum, canonjson.JoinKey(path, "instrument"), "must be perp or option, got %q", instrument)
	}

	d.Leverage = DefaultLeverage
	if lv, ok := obj["leverage"]; ok {
		if d.Leverage, err = LeverageRule.canonicalizeValue(canonjson.JoinKey(path, "leverage"), lv); err != nil {
			return d, err
		}
	}

	// option is forced to null for perps whatever the input carries.
	if d.Instrument == InstrumentOption {
		optPath := canonjson.JoinKey(path, "option")
		ov, ok := obj["option"]
		if !ok {
			return d, reject(ReasonMissingField, optPath, "option terms are required for option instruments")
		}
		if d.Option, err = canonicalizeOption(optPath, ov); err != nil {
			return d, err
		}
	}

	side, err := stringField(obj, path, "side")
	if err != nil {
		return d, err
	}
	d.Side = Side(lower(side))
	switch d.Side {
	case SideLong, SideShort, SideBuy, SideSell:
	default:
		return d, reject(ReasonInvalidEnum, canonjson.JoinKey(path, "side"), "must be long, short, buy or sell, got %q", side)
	}

	if d.Size, err = SizeRule.canonicalizeValue(canonjson.JoinKey(path, "size"), obj["size"]); err != nil {
		return d, err
	}

	symbol, err := stringField(obj, path, "symbol")
	if err != nil {
		return d, err
	}
	d.Symbol = upper(symbol)
	if !strings.Contains(d.Symbol, "-") {
		return d, reject(ReasonInvalidFormat, canonjson.JoinKey(path, "symbol"), "symbol must look like BASE-QUOTE, got %q", symbol)
	}

	return d, nil
}

func canonicalizeCollateral(path string, v canonjson.Value) (Collateral, error) {
	var c Collateral
	obj, err := asObject(path, v)
	if err != nil {
		return c, err
	}
	if err := checkFields(obj, path, collateralFields); err != nil {
		return c, err
	}

	chain, err := stringField(obj, path, "chain")
	if err != nil {
		return c, err
	}
	c.Chain = lower(chain)
	if !slices.Contains(Chains, c.Chain) {
		return c, reject(ReasonInvalidEnum, canonjson.JoinKey(path, "chain"), "unsupported chain %q", chain)
	}

	if c.Token, err = stringField(obj, path, "token"); err != nil {
		return c, err
	}
	if c.Token == "" {
		return c, reject(ReasonInvalidFormat, canonjson.JoinKey(path, "token"), "token must not be empty")
	}
	return c, nil
}

func canonicalizeConstraints(path string, v canonjson.Value) (Constraints, error) {
	c := Constraints{
		MaxFeeBps:       DefaultMaxFeeBps,
		MaxFundingBps8h: DefaultMaxFundingBps8h,
		MaxSlippageBps:  DefaultMaxSlippageBps,
		VenueAllowlist:  []string{},
	}
	if v == nil {
		return c, nil
	}
	obj, err := asObject(path, v)
	if err != nil {
		return c, err
	}
	if err := checkFields(obj, path, constraintsFields); err != nil {
		return c, err
	}

	bps := []struct {
		key    string
		cap    int64
		target *int64
	}{
		{"max_fee_bps", MaxFeeBpsCap, &c.MaxFeeBps},
		{"max_funding_bps_8h", MaxFundingBps8hCap, &c.MaxFundingBps8h},
		{"max_slippage_bps", MaxSlippageBpsCap, &c.MaxSlippageBps},
	}
	for _, b := range bps {
		raw, ok := obj[b.key]
		if !ok {
			continue
		}
		fieldPath := canonjson.JoinKey(path, b.key)
		n, ok := raw.(canonjson.Int)
		if !ok {
			return c, reject(ReasonInvalidType, fieldPath, "must be an integer, got %s", canonjson.Kind(raw))
		}
		if n < 0 || int64(n) > b.cap {
			return c, reject(ReasonOutOfRange, fieldPath, "%d out of range [0, %d]", n, b.cap)
		}
		*b.target = int64(n)
	}

	if raw, ok := obj["venue_allowlist"]; ok {
		if c.VenueAllowlist, err = canonicalVenues(canonjson.JoinKey(path, "venue_allowlist"), raw); err != nil {
			return c, err
		}
	}
	return c, nil
}

// canonicalVenues lowercases, deduplicates and sorts the allowlist.
func canonicalVenues(path string, v canonjson.Value) ([]string, error) {
	arr, ok := v.(canonjson.Array)
	if !ok {
		return nil, reject(ReasonInvalidType, path, "must be an array, got %s", canonjson.Kind(v))
	}
	venues := make([]string, 0, len(arr))
	for i, elem := range arr {
		s, ok := elem.(canonjson.String)
		if !ok {
			return nil, reject(ReasonInvalidType, canonjson.JoinIndex(path, i), "venue must be a string, got %s", canonjson.Kind(elem))
		}
		venue := lower(strings.TrimSpace(string(s)))
		if venue == "" {
			return nil, reject(ReasonInvalidFormat, canonjson.JoinIndex(path, i), "venue must not be empty")
		}
		venues = append(venues, venue)
	}
	slices.SortFunc(venues, canonjson.CompareUTF16)
	return slices.Compact(venues), nil
}

func canonicalizeOption(path string, v canonjson.Value) (*Option, error) {
	obj, err := asObject(path, v)
	if err != nil {
		return nil, err
	}
	if err := checkFields(obj, path, optionFields); err != nil {
		return nil, err
	}

	o := &Option{}
	if o.Expiry, err = timestampField(obj, path, "expiry"); err != nil {
		return nil, err
	}
	kind, err := stringField(obj, path, "kind")
	if err != nil {
		return nil, err
	}
	o.Kind = OptionKind(lower(kind))
	if o.Kind != OptionCall && o.Kind != OptionPut {
		return nil, reject(ReasonInvalidEnum, canonjson.JoinKey(path, "kind"), "must be call or put, got %q", kind)
	}
	if o.Strike, err = StrikeRule.canonicalizeValue(canonjson.JoinKey(path, "strike"), obj["strike"]); err != nil {
		return nil, err
	}
	return o, nil
}

// canonicalNonce accepts a string, or a non-negative integer rendered in decimal.
func canonicalNonce(v canonjson.Value) (string, error) {
	var nonce string
	switch x := v.(type) {
	case canonjson.String:
		nonce = strings.TrimSpace(string(x))
	case canonjson.Int:
		if x < 0 {
			return "", reject(ReasonInvalidFormat, "nonce", "numeric nonce must not be negative")
		}
		nonce = strconv.FormatInt(int64(x), 10)
	case canonjson.Number:
		if strings.Trim(string(x), "0123456789") != "" {
			return "", reject(ReasonInvalidFormat, "nonce", "numeric nonce must be an integer, got %s", string(x))
		}
		nonce = string(x)
	default:
		return "", reject(ReasonInvalidType, "nonce", "must be a string or integer, got %s", canonjson.Kind(v))
	}
	if nonce == "" {
		return "", reject(ReasonInvalidFormat, "nonce", "nonce must not be empty")
	}
	return nonce, nil
}

// checkFields enforces closure: unknown keys are reported before missing ones,
// each in sorted order so the reported path is deterministic.
func checkFields(obj canonjson.Object, path string, fs fieldSet) error {
	for _, k := range obj.SortedKeys() {
		if !fs.allows(k) {
			return reject(ReasonUnknownField, canonjson.JoinKey(path, k), "field %q is not allowed here", k)
		}
	}
	for _, k := range fs.required {
		if _, ok := obj[k]; !ok {
			return reject(ReasonMissingField, canonjson.JoinKey(path, k), "required field %q is missing", k)
		}
	}
	return nil
}

func asObject(path string, v canonjson.Value) (canonjson.Object, error) {
	obj, ok := v.(canonjson.Object)
	if !ok {
		return nil, reject(ReasonInvalidType, path, "must be an object, got %s", canonjson.Kind(v))
	}
	return obj, nil
}

// stringField returns the trimmed string at obj[key].
func stringField(obj canonjson.Object, path, key string) (string, error) {
	v := obj[key]
	s, ok := v.(canonjson.String)
	if !ok {
		return "", reject(ReasonInvalidType, canonjson.JoinKey(path, key), "must be a string, got %s", canonjson.Kind(v))
	}
	return strings.TrimSpace(string(s)), nil
}

func timestampField(obj canonjson.Object, path, key string) (string, error) {
	s, err := stringField(obj, path, key)
	if err != nil {
		return "", err
	}
	return CanonicalTimestamp(canonjson.JoinKey(path, key), s)
}

// Case mapping can produce decomposed sequences, so re-apply NFC.
func lower(s string) string { return norm.NFC.String(strings.ToLower(s)) }
func upper(s string) string { return norm.NFC.String(strings.ToUpper(s)) }
