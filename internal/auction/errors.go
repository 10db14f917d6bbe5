package auction

import (
	"errors"
	"fmt"

	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

// Code identifies a coordinator error.
type Code string

const (
	CodeDuplicateIntent        Code = "DuplicateIntent"
	CodeNotFound               Code = "NotFound"
	CodeNoSolversAvailable     Code = "NoSolversAvailable"
	CodeNoValidQuotes          Code = "NoValidQuotes"
	CodeInvalidStateTransition Code = "InvalidStateTransition"

	// CodeNotWinner rejects an execution claim from a solver that did not win.
	CodeNotWinner Code = "NotWinner"

	// CodeUnknownRequest rejects a quote with no outstanding request behind it.
	CodeUnknownRequest Code = "UnknownRequest"

	CodeQuoteWindowClosed      Code = "QuoteWindowClosed"
	CodeInvalidQuote           Code = "InvalidQuote"
	CodeExclusivityExpired     Code = "ExclusivityExpired"
	CodeExecutionFailed        Code = "ExecutionFailed"
	CodeInvalidExecutionResult Code = "InvalidExecutionResult"
	CodeSignatureInvalid       Code = "SignatureInvalid"
	CodeGuardrailViolation     Code = "GuardrailViolation"
	CodeWinnerDisconnected     Code = "WinnerDisconnected"
	CodeUnauthorized           Code = "Unauthorized"
)

// Error is a coordinator failure. It is returned to callers and, for
// terminal failures, recorded on the auction.
type Error struct {
	Code     Code
	Hash     intent.Hash
	SolverID string
	Message  string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case !e.Hash.IsZero() && e.SolverID != "":
		return fmt.Sprintf("%s: %s (intent=%s, solver=%s)", e.Code, e.Message, e.Hash, e.SolverID)
	case !e.Hash.IsZero():
		return fmt.Sprintf("%s: %s (intent=%s)", e.Code, e.Message, e.Hash)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCode reports whether err is, or wraps, an *Error with code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// CodeOf extracts the coordinator code from err.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

func newError(code Code, hash intent.Hash, format string, args ...any) *Error {
	return &Error{Code: code, Hash: hash, Message: fmt.Sprintf(format, args...)}
}

func solverError(code Code, hash intent.Hash, solverID, format string, args ...any) *Error {
	return &Error{Code: code, Hash: hash, SolverID: solverID, Message: fmt.Sprintf(format, args...)}
}
