package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerline/internal/ir"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain",
		Long: `Recompute every record hash in chain order and check the links.

Exit codes:
  0 - Chain is intact
  1 - Chain is broken (the first broken record is reported)
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := newFormatter(rootOpts, cmd)
			v, err := a.ledger.VerifyAll(ctx)
			if err != nil {
				out.Error(err, v)
				return operationError("verification failed", err)
			}
			return out.Success(v, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Chain intact (%d records)\n", v.Checked)
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := newFormatter(rootOpts, cmd)
			st, err := a.ledger.Stats(ctx)
			if err != nil {
				out.Error(err, nil)
				return operationError("stats failed", err)
			}
			return out.Success(st, func(w io.Writer) {
				fmt.Fprintf(w, "Facts:        %d\n", st.Total)
				fmt.Fprintf(w, "Chain length: %d\n", st.ChainLength)
				fmt.Fprintf(w, "Head hash:    %s\n", st.HeadHash)
				fmt.Fprintf(w, "Unprocessed:  %d\n", st.Unprocessed)
				if st.LastOccurredAt != nil {
					fmt.Fprintf(w, "Last fact:    %s\n", st.LastOccurredAt.Format(time.RFC3339))
				}
				for _, tier := range []ir.Tier{ir.TierS, ir.TierA, ir.TierTerminal} {
					fmt.Fprintf(w, "Tier %-9s %d\n", string(tier)+":", st.ByTier[tier])
				}
				types := make([]string, 0, len(st.ByOutcome))
				for t := range st.ByOutcome {
					types = append(types, t)
				}
				slices.Sort(types)
				for _, t := range types {
					fmt.Fprintf(w, "  %-30s %d\n", t, st.ByOutcome[t])
				}
			})
		},
	}
}
