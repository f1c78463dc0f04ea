package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/swipematch/internal/api"
	"github.com/roach88/swipematch/internal/config"
	"github.com/roach88/swipematch/internal/consensus"
	"github.com/roach88/swipematch/internal/engine"
	"github.com/roach88/swipematch/internal/model"
	"github.com/roach88/swipematch/internal/publish"
	"github.com/roach88/swipematch/internal/store"
	"github.com/roach88/swipematch/internal/store/memstore"
	"github.com/roach88/swipematch/internal/store/pgstore"
)

// backend is everything the commands need from a storage driver.
type backend interface {
	engine.VoteStore
	engine.Feed
	publish.Log
	api.Store
	ListVotes(ctx context.Context, roomID string) ([]model.Vote, error)
	PurgeExpiredConsensus(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*memstore.Store)(nil)
	_ backend = (*pgstore.Store)(nil)
)

func openBackend(cfg config.Store, logger *slog.Logger) (backend, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.Open(cfg.Path)
	case "memory":
		return memstore.New(), nil
	case "postgres":
		return pgstore.Open(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// app is the assembled vote pipeline.
type app struct {
	store     backend
	publisher *publish.Publisher
	processor *engine.Processor
	poller    *engine.FeedPoller
	relay     publish.Relay
	logger    *slog.Logger

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := openBackend(cfg.Store, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	a := &app{store: st, logger: logger, closers: []func() error{st.Close}}

	sink, err := a.openSink(ctx, cfg.Publish)
	if err != nil {
		_ = a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open publish sink", err)
	}

	a.publisher = publish.NewPublisher(st, sink,
		publish.WithRetry(cfg.Publish.Attempts, cfg.Publish.BackoffDuration()),
		publish.WithRetention(cfg.Publish.RetentionDuration()),
		publish.WithLogger(logger),
	)
	transition := engine.NewTransition(st, a.publisher, engine.WithTransitionLogger(logger))
	a.processor = engine.NewProcessor(st, transition,
		engine.WithRule(consensus.NewRule(cfg.Policy())),
		engine.WithProcessorLogger(logger),
	)
	a.poller = engine.NewFeedPoller(st, engine.NewDispatcher(a.processor, logger),
		engine.WithConsumer(cfg.Feed.Consumer),
		engine.WithBatchSize(cfg.Feed.BatchSize),
		engine.WithPollInterval(cfg.Feed.IntervalDuration()),
		engine.WithPollerLogger(logger),
	)
	a.relay = publish.Relay{
		Publisher: a.publisher,
		BatchSize: cfg.Feed.BatchSize,
		Grace:     publish.DefaultRelayGrace,
		Logger:    logger,
	}
	return a, nil
}

func (a *app) openSink(ctx context.Context, cfg config.Publish) (publish.Sink, error) {
	switch cfg.Sink {
	case "log":
		return publish.LogSink{Logger: a.logger}, nil
	case "redis":
		rdb, err := publish.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		return publish.NewRedisSink(rdb, cfg.ChannelPrefix), nil
	default:
		return nil, fmt.Errorf("unknown publish sink %q", cfg.Sink)
	}
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// appEnv is what a one-shot command body sees.
type appEnv struct {
	*app
	out *OutputFormatter
}

// withApp loads config, assembles the pipeline, runs fn and closes everything.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(env *appEnv) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cfg, cmd.ErrOrStderr())

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("error closing resources", "error", closeErr)
		}
	}()

	return fn(&appEnv{app: a, out: opts.formatter(cmd)})
}
