package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// VVOptions holds flags for the vv command.
type VVOptions struct {
	*RootOptions
	Window int
}

// NewVVCommand creates the vv command.
func NewVVCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VVOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "vv <subject-id>",
		Short: "Compute a subject's velocity of value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			window := opts.Window
			if window <= 0 {
				window = a.cfg.VV.WindowDays
			}
			out := newFormatter(opts.RootOptions, cmd)
			res, err := a.vv.Compute(ctx, args[0], window)
			if err != nil {
				out.Error(err, nil)
				return operationError("vv failed", err)
			}
			return out.Success(res, func(w io.Writer) {
				if res.Value == nil {
					fmt.Fprintf(w, "%s: %s (%d samples in %d days, not enough to score)\n",
						res.SubjectID, res.Status, res.Samples, res.WindowDays)
					return
				}
				fmt.Fprintf(w, "%s: %+.3f %s (%d samples in %d days)\n",
					res.SubjectID, *res.Value, res.Status, res.Samples, res.WindowDays)
			})
		},
	}

	cmd.Flags().IntVar(&opts.Window, "window", 0, "window in days (default from config)")
	return cmd
}
