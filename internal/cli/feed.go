package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/swipematch/internal/engine"
)

// NewFeedCommand creates the feed command group.
func NewFeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Operate on the vote change feed and consensus event log",
	}
	cmd.AddCommand(newFeedDispatchCommand(rootOpts))
	cmd.AddCommand(newFeedRedeliverCommand(rootOpts))
	cmd.AddCommand(newFeedPurgeCommand(rootOpts))
	return cmd
}

func newFeedDispatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Process every pending feed record once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(env *appEnv) error {
				res, err := env.poller.Drain(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "feed dispatch stopped", err)
				}
				return env.out.Success(res, formatBatch(res))
			})
		},
	}
}

func newFeedRedeliverCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redeliver",
		Short: "Resend consensus events that were recorded but never published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(env *appEnv) error {
				n, err := env.relay.RunOnce(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, fmt.Sprintf("redelivery stopped after %d events", n), err)
				}
				return env.out.Success(map[string]int{"published": n},
					fmt.Sprintf("redelivered %d consensus events", n))
			})
		},
	}
}

func newFeedPurgeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete consensus events past their retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(env *appEnv) error {
				n, err := env.store.PurgeExpiredConsensus(cmd.Context(), time.Now().UTC())
				if err != nil {
					return WrapExitError(ExitFailure, "purge failed", err)
				}
				return env.out.Success(map[string]int64{"purged": n},
					fmt.Sprintf("purged %d expired consensus events", n))
			})
		},
	}
}

func formatBatch(r engine.BatchResult) string {
	return fmt.Sprintf("dispatched %d records: %d processed, %d filtered, %d malformed, %d failed, %d matches (last seq %d)",
		r.Received, r.Processed, r.Filtered, r.Malformed, r.Failed, r.Matches, r.LastSeq)
}
