package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bpolania/DeltaNEAR-sub000/internal/status"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // success
	ExitFailure      = 1 // a check failed, such as a failing scenario
	ExitCommandError = 2 // bad arguments, unreadable input, broken config
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err, defaulting to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"` // rejection reason or E_* command code
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if r, ok := data.(textRenderer); ok {
		r.renderText(f.Writer)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog writes to the diagnostic writer in verbose mode only, so JSON
// on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// Fail reports a failure in the configured format and returns an
// ExitError with code.
func (f *OutputFormatter) Fail(exit int, code, message string, details any) error {
	if err := f.Error(code, message, details); err != nil {
		return err
	}
	return NewExitError(exit, message)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// textRenderer is a result with its own text layout. JSON output ignores it.
type textRenderer interface {
	renderText(w io.Writer)
}

func (r CanonicalResult) renderText(w io.Writer) {
	if r.Canonical != "" {
		fmt.Fprintln(w, r.Canonical)
		return
	}
	fmt.Fprintln(w, r.Hash)
}

// receiptView prints a receipt as label/value lines, skipping empty values.
type receiptView struct {
	status.Receipt
}

func (v receiptView) renderText(w io.Writer) {
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-10s%s\n", label+":", value)
		}
	}
	r := v.Receipt
	line("Intent", r.IntentHash)
	line("Status", r.Status)
	line("Solver", r.WinningSolver)
	line("Venue", r.Venue)
	line("Fill", r.FillPrice)
	if r.FeesBps != nil {
		line("Fees", fmt.Sprintf("%d bps", *r.FeesBps))
	}
	if r.Error != nil {
		line("Error", r.Error.Code+": "+r.Error.Message)
	}
	if st := r.Settlement; st != nil {
		line("Settled", string(st.Outcome))
		line("Ref", st.Reference)
		if f := st.Fees; f != nil {
			line("Protocol", fmt.Sprintf("%s on %s notional, rebate %s", f.ProtocolFee, f.Notional, f.SolverRebate))
			line("Treasury", f.Treasury)
		}
	}
}
