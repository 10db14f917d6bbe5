package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bpolania/DeltaNEAR-sub000/internal/conformance"
)

// VectorsResult is the JSON payload of vectors verify.
type VectorsResult struct {
	Vectors []conformance.Result `json:"vectors"`
	Passed  int                  `json:"passed"`
	Failed  int                  `json:"failed"`
	Total   int                  `json:"total"`
}

// GenerateOptions holds flags for vectors generate.
type GenerateOptions struct {
	*RootOptions
	Raw   string
	Out   string
	Notes []string
}

// NewVectorsCommand creates the vectors command group.
func NewVectorsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vectors",
		Short: "Verify or generate canonicalization test vectors",
	}
	cmd.AddCommand(newVectorsVerifyCommand(rootOpts))
	cmd.AddCommand(newVectorsGenerateCommand(rootOpts))
	return cmd
}

func newVectorsVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <dir>",
		Short: "Check every vector under a directory",
		Long: `Canonicalize each vector's raw.json and compare the bytes, hash and
byte length against canonical.json and expected.json. Rejection vectors
must fail with the recorded reason and path.

Exit codes:
  0 - All vectors passed
  1 - One or more vectors failed
  2 - Command error (missing directory, unreadable vector)

Examples:
  deltanear vectors verify ./vectors
  deltanear vectors verify ./vectors --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVectorsVerify(rootOpts, cmd, args[0])
		},
	}
}

func runVectorsVerify(opts *RootOptions, cmd *cobra.Command, dir string) error {
	out := newFormatter(opts, cmd)

	results, err := conformance.VerifyDir(dir)
	if err != nil {
		return out.Fail(ExitCommandError, "E_VECTORS", err.Error(), nil)
	}

	summary := VectorsResult{Vectors: results, Total: len(results)}
	for _, r := range results {
		if r.Passed {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	if opts.Format == "json" {
		if err := out.Success(summary); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, r := range results {
			if r.Passed {
				fmt.Fprintf(w, "%s %s\n", markPass, r.Name)
				out.VerboseLog("  %s", r.Hash)
				continue
			}
			fmt.Fprintf(w, "%s %s\n", markFail, r.Name)
			for _, p := range r.Problems {
				fmt.Fprintf(w, "  %s\n", p)
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Vectors: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d vector(s) failed", summary.Failed))
	}
	return nil
}

func newVectorsGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create a vector from a raw intent",
		Long: `Canonicalize a raw intent and write raw.json, canonical.json and
expected.json into a new vector directory. A raw intent that is rejected
produces a rejection vector. Existing vectors are never overwritten.

Examples:
  deltanear vectors generate --raw intent.json --out ./vectors/my_case
  deltanear vectors generate --raw bad.json --out ./vectors/reject_x --note "scientific size"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVectorsGenerate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Raw, "raw", "", "raw intent file, or - for stdin")
	cmd.Flags().StringVar(&opts.Out, "out", "", "vector directory to create")
	cmd.Flags().StringArrayVar(&opts.Notes, "note", nil, "note recorded in expected.json (repeatable)")
	_ = cmd.MarkFlagRequired("raw")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runVectorsGenerate(opts *GenerateOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	raw, err := readInput(cmd, opts.Raw)
	if err != nil {
		return out.Fail(ExitCommandError, "E_INPUT", err.Error(), nil)
	}
	v, err := conformance.Generate(opts.Out, raw, opts.Notes)
	if err != nil {
		return out.Fail(ExitCommandError, "E_GENERATE", err.Error(), nil)
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{"name": v.Name, "dir": v.Dir, "expected": v.Expected})
	}
	w := cmd.OutOrStdout()
	if rej := v.Expected.Rejection; rej != nil {
		fmt.Fprintf(w, "%s %s (rejection %s)\n", markPass, v.Name, rej.Reason)
		return nil
	}
	fmt.Fprintf(w, "%s %s %s\n", markPass, v.Name, v.Expected.Hash)
	return nil
}
