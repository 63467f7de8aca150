package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerline/internal/contract"
	"github.com/roach88/ledgerline/internal/failure"
)

// NewContractCommand creates the contract command group.
func NewContractCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Manage contract lifecycles",
		Long: `Contracts move through the S0-S9 lifecycle. States may be given as
codes (S5) or names (monitor).`,
	}
	cmd.AddCommand(newContractIntakeCommand(rootOpts))
	cmd.AddCommand(newContractListCommand(rootOpts))
	cmd.AddCommand(newContractGetCommand(rootOpts))
	cmd.AddCommand(newContractBlastRadiusCommand(rootOpts))
	cmd.AddCommand(newContractTransitionCommand(rootOpts))
	return cmd
}

func parseStateFlag(s string) (contract.State, error) {
	if s == "" {
		return "", failure.Validation("cli", "target state is required")
	}
	return contract.ParseState(s)
}

func newContractIntakeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		c     contract.Contract
		state string
	)

	cmd := &cobra.Command{
		Use:   "intake <contract-id>",
		Short: "Register a new contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := newFormatter(rootOpts, cmd)
			c.ID = args[0]
			if state != "" {
				s, err := contract.ParseState(state)
				if err != nil {
					out.Error(err, nil)
					return operationError("intake failed", err)
				}
				c.State = s
			}

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.machine.Intake(ctx, c)
			if err != nil {
				out.Error(err, nil)
				return operationError("intake failed", err)
			}
			return out.Success(created, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Contract %s registered in %s (%s)\n", created.ID, created.State, created.State.Name())
			})
		},
	}

	cmd.Flags().StringVar(&c.SlotID, "slot", "", "slot id")
	cmd.Flags().StringVar(&c.ProducerID, "producer", "", "producer id")
	cmd.Flags().StringVar(&c.CustomerID, "customer", "", "customer id")
	cmd.Flags().Float64Var(&c.MonthlyValue, "monthly-value", 0, "monthly contract value")
	cmd.Flags().StringVar(&state, "state", "", "initial state (default S0)")
	return cmd
}

func newContractListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			contracts := a.machine.Index().List()
			if contracts == nil {
				contracts = []contract.Contract{}
			}
			return newFormatter(rootOpts, cmd).Success(contracts, func(w io.Writer) {
				if len(contracts) == 0 {
					fmt.Fprintln(w, "No contracts.")
					return
				}
				for _, c := range contracts {
					fmt.Fprintf(w, "%-20s %s %-12s slot=%s producer=%s customer=%s\n",
						c.ID, c.State, c.State.Name(), c.SlotID, c.ProducerID, c.CustomerID)
				}
			})
		},
	}
}

func newContractGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <contract-id>",
		Short: "Show a contract and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := newFormatter(rootOpts, cmd)
			c, err := a.machine.Index().Get(args[0])
			if err != nil {
				out.Error(err, nil)
				return operationError("contract lookup failed", err)
			}
			return out.Success(c, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s (%s)\n", c.ID, c.State, c.State.Name())
				for _, t := range c.History {
					fmt.Fprintf(w, "  %s -> %s by %s: %s\n", t.From, t.To, t.Actor, t.Reason)
				}
			})
		},
	}
}

func newContractBlastRadiusCommand(rootOpts *RootOptions) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "blast-radius <contract-id>",
		Short: "Preview the impact of a transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			target, err := parseStateFlag(to)
			if err != nil {
				out.Error(err, nil)
				return operationError("preview failed", err)
			}

			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			br, err := a.machine.Preview(args[0], target)
			if err != nil {
				out.Error(err, nil)
				return operationError("preview failed", err)
			}
			return out.Success(br, func(w io.Writer) {
				fmt.Fprintf(w, "%s -> %s: %d affected, risk %s, revenue impact %.2f\n",
					args[0], target, br.AffectedCount, br.RiskLevel, br.RevenueImpact)
			})
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "target state (required)")
	return cmd
}

func newContractTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	var to, actor, reason string

	cmd := &cobra.Command{
		Use:   "transition <contract-id>",
		Short: "Move a contract to a new state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := newFormatter(rootOpts, cmd)
			target, err := parseStateFlag(to)
			if err != nil {
				out.Error(err, nil)
				return operationError("transition failed", err)
			}

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.machine.Transition(ctx, args[0], target, actor, reason)
			if err != nil {
				out.Error(err, nil)
				return operationError("transition failed", err)
			}
			return out.Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s now %s (%s), %d affected, risk %s\n",
					res.Contract.ID, res.Contract.State, res.Contract.State.Name(),
					res.BlastRadius.AffectedCount, res.BlastRadius.RiskLevel)
			})
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "target state (required)")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded on the transition")
	cmd.Flags().StringVar(&reason, "reason", "", "transition reason")
	return cmd
}
