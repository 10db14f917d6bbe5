package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bpolania/DeltaNEAR-sub000/internal/api"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

// CanonicalResult is the JSON payload of canonicalize and hash.
type CanonicalResult struct {
	Hash       string `json:"hash"`
	ByteLength int    `json:"byte_length"`
	Canonical  string `json:"canonical,omitempty"`
}

// NewCanonicalizeCommand creates the canonicalize command.
func NewCanonicalizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "canonicalize <file|->",
		Short: "Print the canonical form of an intent",
		Long: `Canonicalize a raw intent document and print its canonical JSON.

Reads stdin when the argument is "-". A rejected intent exits 1 with
the rejection reason as the error code.

Examples:
  deltanear canonicalize intent.json
  cat intent.json | deltanear canonicalize - --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanonical(rootOpts, cmd, args[0], true)
		},
	}
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file|->",
		Short: "Print the intent hash of an intent",
		Long: `Canonicalize a raw intent document and print the lowercase hex
SHA-256 of its canonical bytes.

Examples:
  deltanear hash intent.json
  deltanear hash - < intent.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanonical(rootOpts, cmd, args[0], false)
		},
	}
}

func runCanonical(opts *RootOptions, cmd *cobra.Command, src string, withBytes bool) error {
	out := newFormatter(opts, cmd)

	raw, err := readInput(cmd, src)
	if err != nil {
		return out.Fail(ExitCommandError, "E_INPUT", err.Error(), nil)
	}
	out.VerboseLog("read %d bytes from %s", len(raw), src)

	can, err := intent.Normalize(raw)
	if err != nil {
		var rej *intent.Rejection
		if errors.As(err, &rej) {
			var details any
			if rej.Path != "" {
				details = map[string]string{"path": rej.Path}
			}
			return out.Fail(ExitFailure, string(rej.Reason), rej.Error(), details)
		}
		return out.Fail(ExitFailure, "E_CANONICALIZE", err.Error(), nil)
	}

	res := CanonicalResult{Hash: can.Hash.String(), ByteLength: len(can.Bytes)}
	if withBytes {
		res.Canonical = string(can.Bytes)
	}
	return out.Success(res)
}

// readInput reads src, or stdin for "-", refusing anything larger than an
// intent the API would accept.
func readInput(cmd *cobra.Command, src string) ([]byte, error) {
	var r io.Reader
	if src == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(src)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	raw, err := io.ReadAll(io.LimitReader(r, api.MaxIntentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	if len(raw) > api.MaxIntentBytes {
		return nil, fmt.Errorf("%s: intent exceeds %d bytes", src, api.MaxIntentBytes)
	}
	return raw, nil
}
