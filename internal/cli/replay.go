package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerline/internal/ir"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	From  int64
	Limit int
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay facts in occurrence order",
		Long: `Print ledger entries ordered by occurrence time. Sequence numbers are
positional and start at 1, so "--from k+1" continues a replay that
returned k entries.

Examples:
  ledgerline replay --db ./ledgerline.db
  ledgerline replay --from 101 --limit 100 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			var entries []ir.Entry
			if opts.Limit > 0 {
				entries, err = a.ledger.ReplayPage(ctx, opts.From, opts.Limit)
			} else {
				entries, err = a.ledger.Replay(ctx, opts.From)
			}
			out := newFormatter(opts.RootOptions, cmd)
			if err != nil {
				out.Error(err, nil)
				return operationError("replay failed", err)
			}
			if entries == nil {
				entries = []ir.Entry{}
			}
			return out.Success(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No facts found.")
					return
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%6d  %s  %-26s %-8s %s/%s  chain=%d\n",
						e.Sequence, e.Fact.OccurredAt.Format(time.RFC3339), e.Fact.OutcomeType,
						e.Fact.Tier, e.Fact.EntityType, e.Fact.EntityID, e.ChainSeq)
				}
			})
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 1, "first sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries (0 = all)")
	return cmd
}
