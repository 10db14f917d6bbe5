package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/canonjson"
)

// DecimalRule bounds a decimal field: an inclusive range and the maximum
// number of fractional digits accepted.
type DecimalRule struct {
	Min       decimal.Decimal
	Max       decimal.Decimal
	Precision int
}

var (
	// SizeRule governs derivatives.size.
	SizeRule = DecimalRule{Min: decimal.RequireFromString("0.00000001"), Max: decimal.RequireFromString("1000000"), Precision: 8}

	// LeverageRule governs derivatives.leverage.
	LeverageRule = DecimalRule{Min: decimal.RequireFromString("1"), Max: decimal.RequireFromString("100"), Precision: 2}

	// StrikeRule governs derivatives.option.strike.
	StrikeRule = DecimalRule{Min: decimal.RequireFromString("0.01"), Max: decimal.RequireFromString("1000000000"), Precision: 2}

	// AmountRule governs solver-supplied monetary strings (prices, fills).
	AmountRule = DecimalRule{Min: decimal.Zero, Max: decimal.RequireFromString("1000000000000"), Precision: 18}
)

var plainDecimal = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Canonicalize validates s against the rule and returns its canonical text.
//
// Checks run in a fixed order so each input maps to one reason: exponent,
// sign, leading zero, syntax, precision, then range. Precision is counted on
// the input text, so trailing zeros count and nothing is ever rounded.
func (r DecimalRule) Canonicalize(path, s string) (string, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "", reject(ReasonInvalidDecimal, path, "empty decimal")
	case strings.ContainsAny(s, "eE"):
		return "", reject(ReasonScientificNotationRejected, path, "scientific notation not allowed: %s", s)
	case s[0] == '+':
		return "", reject(ReasonPositiveSignRejected, path, "positive sign not allowed: %s", s)
	case s[0] == '-':
		return "", reject(ReasonNegativeSignRejected, path, "negative values not allowed: %s", s)
	case len(s) > 1 && s[0] == '0' && s[1] != '.':
		return "", reject(ReasonLeadingZeroRejected, path, "leading zeros not allowed: %s", s)
	case !plainDecimal.MatchString(s):
		return "", reject(ReasonInvalidDecimal, path, "not a decimal: %s", s)
	}

	if dot := strings.IndexByte(s, '.'); dot >= 0 && len(s)-dot-1 > r.Precision {
		return "", reject(ReasonPrecisionExceeded, path, "%s exceeds %d decimal places", s, r.Precision)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", reject(ReasonInvalidDecimal, path, "not a decimal: %s", s)
	}
	if d.LessThan(r.Min) || d.GreaterThan(r.Max) {
		return "", reject(ReasonOutOfRange, path, "%s out of range [%s, %s]", s, r.Min, r.Max)
	}
	if d.IsZero() {
		return "0", nil
	}
	// String drops trailing fractional zeros and a dangling point.
	return d.String(), nil
}

// canonicalizeValue accepts a decimal given as a JSON string or number.
// Numbers are read from their literal text, never through float64.
func (r DecimalRule) canonicalizeValue(path string, v canonjson.Value) (string, error) {
	switch x := v.(type) {
	case canonjson.String:
		return r.Canonicalize(path, string(x))
	case canonjson.Number:
		return r.Canonicalize(path, string(x))
	case canonjson.Int:
		return r.Canonicalize(path, strconv.FormatInt(int64(x), 10))
	default:
		return "", reject(ReasonInvalidType, path, "decimal must be a string or number, got %s", canonjson.Kind(v))
	}
}
