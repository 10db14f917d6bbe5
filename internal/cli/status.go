package cli

import (
	"github.com/spf13/cobra"

	"github.com/bpolania/DeltaNEAR-sub000/internal/auction"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/status"
	"github.com/bpolania/DeltaNEAR-sub000/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	DBPath string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <intent-hash>",
		Short: "Show the archived receipt for an intent",
		Long: `Read the receipt of a retired auction from the SQLite archive.

Only archived auctions are visible here; live auctions are served by
GET /v1/intents/{hash} on a running service.

Examples:
  deltanear status --db deltanear.db 5ea5e904bc23a616...
  deltanear status --db deltanear.db <hash> --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "path to the SQLite archive (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command, rawHash string) error {
	out := newFormatter(opts.RootOptions, cmd)

	hash, err := intent.ParseHash(rawHash)
	if err != nil {
		return out.Fail(ExitCommandError, "E_HASH", err.Error(), nil)
	}

	st, err := store.Open(opts.DBPath)
	if err != nil {
		return out.Fail(ExitCommandError, "E_DB", err.Error(), map[string]string{"path": opts.DBPath})
	}
	defer st.Close()

	receipt, err := status.New(nil, st).Project(cmd.Context(), hash)
	if err != nil {
		if code, ok := auction.CodeOf(err); ok {
			return out.Fail(ExitFailure, string(code), err.Error(), nil)
		}
		return out.Fail(ExitCommandError, "E_DB", err.Error(), nil)
	}

	return out.Success(receiptView{receipt})
}
