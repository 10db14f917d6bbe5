package intent

import (
	"errors"
	"fmt"
)

// Reason tags why an intent was rejected.
type Reason string

const (
	ReasonUnknownField               Reason = "UnknownField"
	ReasonMissingField               Reason = "MissingField"
	ReasonOutOfRange                 Reason = "OutOfRange"
	ReasonPrecisionExceeded          Reason = "PrecisionExceeded"
	ReasonScientificNotationRejected Reason = "ScientificNotationRejected"
	ReasonLeadingZeroRejected        Reason = "LeadingZeroRejected"
	ReasonNegativeSignRejected       Reason = "NegativeSignRejected"
	ReasonBadTimestamp               Reason = "BadTimestamp"
	ReasonInvalidEnum                Reason = "InvalidEnum"

	// ReasonPositiveSignRejected indicates a decimal with a leading '+'.
	ReasonPositiveSignRejected Reason = "PositiveSignRejected"

	// ReasonInvalidDecimal indicates text that is not a plain decimal literal.
	ReasonInvalidDecimal Reason = "InvalidDecimal"

	// ReasonInvalidType indicates a field holding the wrong JSON kind.
	ReasonInvalidType Reason = "InvalidType"

	// ReasonInvalidFormat indicates a string field that breaks its format rule
	// (symbol, signer_id, nonce, token, venue).
	ReasonInvalidFormat Reason = "InvalidFormat"

	// ReasonDuplicateField indicates an object repeating a key.
	ReasonDuplicateField Reason = "DuplicateField"

	// ReasonMalformedJSON indicates the input is not a single JSON value.
	ReasonMalformedJSON Reason = "MalformedJSON"
)

// Rejection is the structured error returned by the canonicalizer.
type Rejection struct {
	// Reason identifies the rule that failed.
	Reason Reason

	// Path is the dotted field path, empty for document-level failures.
	Path string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Path != "" {
		return fmt.Sprintf("%s at %s: %s", r.Reason, r.Path, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// IsRejection reports whether err is a Rejection with the given reason.
// Uses errors.As to handle wrapped errors.
func IsRejection(err error, reason Reason) bool {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason == reason
	}
	return false
}

// AsRejection extracts the Rejection from err, if any.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

func reject(reason Reason, path, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Path: path, Message: fmt.Sprintf(format, args...)}
}
