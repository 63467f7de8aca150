package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ledgerline/internal/policy"
)

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage shadow-mode policies",
	}
	cmd.AddCommand(newPolicyRegisterCommand(rootOpts))
	cmd.AddCommand(newPolicyListCommand(rootOpts))
	cmd.AddCommand(newPolicyGetCommand(rootOpts))
	cmd.AddCommand(newPolicyActualCommand(rootOpts))
	cmd.AddCommand(newPolicyKillCommand(rootOpts))
	return cmd
}

type policyRegisterOptions struct {
	*RootOptions
	File string
	spec policy.Spec
}

func newPolicyRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &policyRegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a policy in shadow mode",
		Long: `Register a policy from flags or from a YAML file.

File format:
  id: remind-on-no-show
  trigger: NO_SHOW
  action: send_reminder
  condition: fact.metadata.channel == "sms"

Examples:
  ledgerline policy register --trigger NO_SHOW --action send_reminder
  ledgerline policy register --file ./policies/remind.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := opts.spec
			if opts.File != "" {
				data, err := os.ReadFile(opts.File)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read policy file", err)
				}
				if err := yaml.Unmarshal(data, &spec); err != nil {
					return WrapExitError(ExitCommandError, "invalid policy file", err)
				}
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := newFormatter(opts.RootOptions, cmd)
			p, err := a.policies.Register(ctx, spec)
			if err != nil {
				out.Error(err, nil)
				return operationError("register failed", err)
			}
			return out.Success(p, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Policy %s registered (%s on %s, mode %s)\n", p.ID, p.Action, p.Trigger, p.Mode)
			})
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "YAML policy file")
	cmd.Flags().StringVar(&opts.spec.ID, "id", "", "policy id (default generated)")
	cmd.Flags().StringVar(&opts.spec.Trigger, "trigger", "", "outcome type that triggers the policy")
	cmd.Flags().StringVar(&opts.spec.Action, "action", "", "action name")
	cmd.Flags().StringVar(&opts.spec.Condition, "condition", "", "CEL condition over fact")
	cmd.MarkFlagsMutuallyExclusive("file", "trigger")
	return cmd
}

func newPolicyListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			policies := a.policies.List()
			if policies == nil {
				policies = []policy.Policy{}
			}
			return newFormatter(rootOpts, cmd).Success(policies, func(w io.Writer) {
				if len(policies) == 0 {
					fmt.Fprintln(w, "No policies registered.")
					return
				}
				for _, p := range policies {
					printPolicy(w, p)
				}
			})
		},
	}
}

func newPolicyGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <policy-id>",
		Short: "Show a policy and its observations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := newFormatter(rootOpts, cmd)
			p, err := a.policies.Get(args[0])
			if err != nil {
				out.Error(err, nil)
				return operationError("policy lookup failed", err)
			}
			obs, err := a.policies.Observations(args[0])
			if err != nil {
				out.Error(err, nil)
				return operationError("policy lookup failed", err)
			}
			if obs == nil {
				obs = []policy.Observation{}
			}
			data := struct {
				Policy       policy.Policy        `json:"policy"`
				Observations []policy.Observation `json:"observations"`
			}{p, obs}
			return out.Success(data, func(w io.Writer) {
				printPolicy(w, p)
				for _, o := range obs {
					actual := "pending"
					if o.Actual != nil {
						actual = *o.Actual
					}
					fmt.Fprintf(w, "  %s predicted=%s actual=%s\n", o.FactID, o.Prediction, actual)
				}
			})
		},
	}
}

func newPolicyActualCommand(rootOpts *RootOptions) *cobra.Command {
	var factID, actual string

	cmd := &cobra.Command{
		Use:   "actual <policy-id>",
		Short: "Record the actual outcome for an observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := newFormatter(rootOpts, cmd)
			p, err := a.policies.RecordActual(ctx, args[0], factID, actual)
			if err != nil {
				out.Error(err, nil)
				return operationError("record actual failed", err)
			}
			return out.Success(p, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Recorded %s for %s\n", actual, factID)
				printPolicy(w, p)
			})
		},
	}

	cmd.Flags().StringVar(&factID, "fact", "", "observed fact id (required)")
	cmd.Flags().StringVar(&actual, "actual", "", "actual outcome (required)")
	_ = cmd.MarkFlagRequired("fact")
	_ = cmd.MarkFlagRequired("actual")
	return cmd
}

func newPolicyKillCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "kill <policy-id>",
		Short: "Kill a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := newFormatter(rootOpts, cmd)
			p, err := a.policies.Kill(ctx, args[0], reason)
			if err != nil {
				out.Error(err, nil)
				return operationError("kill failed", err)
			}
			return out.Success(p, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Policy %s killed\n", p.ID)
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "kill reason")
	return cmd
}

func printPolicy(w io.Writer, p policy.Policy) {
	fmt.Fprintf(w, "%s  %-9s %s -> %s  confidence=%.2f evaluated=%d/%d executed=%d\n",
		p.ID, p.Mode, p.Trigger, p.Action, p.Confidence, p.EvaluatedCount, p.ObservationCount, p.ExecutionCount)
}
