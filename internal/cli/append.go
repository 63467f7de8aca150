package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerline/internal/engine"
	"github.com/roach88/ledgerline/internal/ir"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	OutcomeType    string
	EntityID       string
	EntityType     string
	Metadata       string // JSON object
	OccurredAt     string // RFC 3339
	IdempotencyKey string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a business event to the ledger",
		Long: `Classify an event, append it to the ledger and run policies and the
urgent follow-up, exactly as the HTTP API does.

Examples:
  ledgerline append --type PAYMENT_FAILED --entity c-17 --entity-type contract
  ledgerline append --type SESSION_COMPLETED --entity cust-3 --entity-type customer \
    --metadata '{"minutes": 45}' --key sess:991`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OutcomeType, "type", "", "outcome type (required)")
	cmd.Flags().StringVar(&opts.EntityID, "entity", "", "entity id (required)")
	cmd.Flags().StringVar(&opts.EntityType, "entity-type", "", "entity type (required)")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "metadata as a JSON object")
	cmd.Flags().StringVar(&opts.OccurredAt, "at", "", "occurrence time, RFC 3339 (default now)")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "key", "", "idempotency key")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("entity-type")
	return cmd
}

func runAppend(ctx context.Context, opts *AppendOptions, cmd *cobra.Command) error {
	ev := engine.Event{
		OutcomeType:    opts.OutcomeType,
		EntityID:       opts.EntityID,
		EntityType:     opts.EntityType,
		IdempotencyKey: opts.IdempotencyKey,
	}
	if opts.Metadata != "" {
		if err := json.Unmarshal([]byte(opts.Metadata), &ev.Metadata); err != nil {
			return WrapExitError(ExitCommandError, "invalid --metadata", err)
		}
	}
	if opts.OccurredAt != "" {
		at, err := time.Parse(time.RFC3339Nano, opts.OccurredAt)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
		ev.OccurredAt = at
	}

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := newFormatter(opts.RootOptions, cmd)
	rep, err := a.engine.Ingest(ctx, ev)
	if err != nil {
		out.Error(err, nil)
		return operationError("append failed", err)
	}
	return out.Success(rep, func(w io.Writer) {
		if rep.Skipped {
			fmt.Fprintf(w, "= duplicate of %s (idempotency key %q)\n", rep.Fact.ID, rep.Fact.IdempotencyKey)
			return
		}
		fmt.Fprintf(w, "✓ %s  %s  tier=%s weight=%g\n", rep.Fact.ID, rep.Fact.OutcomeType, rep.Fact.Tier, rep.Fact.Weight)
		for _, d := range rep.Decisions {
			fmt.Fprintf(w, "  policy %s (%s): %s\n", d.PolicyID, d.Mode, d.Outcome)
		}
		if rep.Transition != nil {
			fmt.Fprintf(w, "  contract %s → %s (blast radius %d, %s)\n",
				rep.Transition.Contract.ID, rep.Transition.Contract.State,
				rep.Transition.BlastRadius.AffectedCount, rep.Transition.BlastRadius.RiskLevel)
		}
		if rep.FollowUpError != "" {
			fmt.Fprintf(w, "  follow-up pending: %s\n", rep.FollowUpError)
		}
	})
}

// ProcessedOptions holds flags for the processed command.
type ProcessedOptions struct {
	*RootOptions
	Process string
}

// NewProcessedCommand creates the processed command.
func NewProcessedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "processed <fact-id>",
		Short: "Mark a trigger fact processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := newFormatter(opts.RootOptions, cmd)
			res, err := a.engine.MarkProcessed(cmd.Context(), args[0], opts.Process)
			if err != nil {
				out.Error(err, nil)
				return operationError("mark processed failed", err)
			}
			return out.Success(res, func(w io.Writer) {
				if res.Skipped {
					fmt.Fprintf(w, "= %s was already processed\n", args[0])
					return
				}
				fmt.Fprintf(w, "✓ %s processed by %s\n", args[0], opts.Process)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Process, "process", "", "name of the handling process (required)")
	_ = cmd.MarkFlagRequired("process")
	return cmd
}

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	Retry bool
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List unprocessed triggers",
		Long: `List S-tier facts that have no processed marker. With --retry, run the
urgent follow-up again for every trigger the engine can handle first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := newFormatter(opts.RootOptions, cmd)
			retried := 0
			if opts.Retry {
				if retried, err = a.engine.ProcessPending(ctx); err != nil {
					out.Error(err, nil)
					return operationError("retry failed", err)
				}
			}
			pending, err := a.ledger.UnprocessedTriggers(ctx)
			if err != nil {
				out.Error(err, nil)
				return operationError("listing triggers failed", err)
			}
			if pending == nil {
				pending = []ir.Fact{}
			}
			data := map[string]any{"pending": pending, "retried": retried}
			return out.Success(data, func(w io.Writer) {
				if opts.Retry {
					fmt.Fprintf(w, "Retried: %d processed\n", retried)
				}
				if len(pending) == 0 {
					fmt.Fprintln(w, "No unprocessed triggers.")
					return
				}
				for _, f := range pending {
					fmt.Fprintf(w, "%s  %s  %s/%s  %s\n", f.ID, f.OutcomeType, f.EntityType, f.EntityID, f.OccurredAt.Format(time.RFC3339))
				}
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Retry, "retry", false, "retry follow-ups before listing")
	return cmd
}
