package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/swipematch/internal/api"
	"github.com/roach88/swipematch/internal/sweeper"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP edge, feed poller and sweeper",
		Long: `Run the service.

The HTTP edge appends vote submissions to the change feed, the feed poller
processes them in order, and the sweeper redelivers unsent consensus events
and purges expired ones on their cron schedules.

Example:
  swipematch serve --config ./swipematch.yaml
  swipematch serve --addr :9090 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}
	logger := opts.logger(cfg, cmd.ErrOrStderr())

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("error closing resources", "error", closeErr)
		}
	}()

	sw, err := sweeper.New(sweeper.Config{
		RedeliverSpec: cfg.Sweeper.Redeliver,
		PurgeSpec:     cfg.Sweeper.Purge,
	}, a.relay, a.store, nil, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to schedule sweeper", err)
	}
	sw.Start()
	defer func() { <-sw.Stop().Done() }()

	pollerErr := make(chan error, 1)
	go func() {
		pollerErr <- a.poller.Run(ctx)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "swipematch listening on %s\n", cfg.HTTP.Addr)
	srv := api.NewServer(a.store, a.poller, api.WithLogger(logger))
	serveErr := srv.ListenAndServe(ctx, cfg.HTTP.Addr)

	cancel()
	a.poller.Stop()
	if err := <-pollerErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("feed poller stopped with error", "error", err)
	}

	if serveErr != nil {
		return WrapExitError(ExitFailure, "http server error", serveErr)
	}
	logger.Info("service stopped gracefully")
	return nil
}
