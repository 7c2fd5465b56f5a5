package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/relohq/relo/internal/callback"
	"github.com/relohq/relo/internal/config"
	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/engine"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/executor"
	"github.com/relohq/relo/internal/poller"
	"github.com/relohq/relo/internal/release"
	"github.com/relohq/relo/internal/scheduler"
)

// newServeCmd creates the serve command for the orchestrator daemon
func newServeCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the release orchestrator",
		Long: `Run the release orchestrator daemon.

The daemon owns the per-release cron runners and the CI polling jobs:
  • Resumes runners for every release whose cron is RUNNING
  • Picks up releases started from the CLI on a reconcile pass
  • Polls CI queues and workflows, folding results into task state
  • Serves Prometheus metrics on --metrics-addr

Press Ctrl+C to stop; runners and pollers drain before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger := newLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.close()

			fmt.Println("relo orchestrator running. Press Ctrl+C to stop.")
			return app.run(ctx, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")
	return cmd
}

// app bundles the daemon's object graph.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *db.Store
	pub     *events.MemoryPublisher
	manager *poller.Manager
	sched   *scheduler.Scheduler
}

// buildApp constructs the daemon object graph: store, provider
// registry, executor, callback aggregator, poller, engine, scheduler.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	registry, err := buildRegistry(ctx, cfg.Providers, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("providers registered", "providers", registry.Registered())

	pub := events.NewMemoryPublisher()
	exec := executor.New(store, registry, logger)
	agg := callback.New(store, pub, logger)
	pol := poller.New(store, registry, agg, pub, logger)
	manager := poller.NewManager(pol,
		cfg.Pollers.PendingInterval.Std(),
		cfg.Pollers.RunningInterval.Std(),
		logger)
	eng := engine.New(engine.Options{
		Store:      store,
		Executor:   exec,
		Registry:   registry,
		Hooks:      manager,
		Pub:        pub,
		Logger:     logger,
		SlotWindow: cfg.Scheduler.SlotWindow.Std(),
	})
	sched := scheduler.New(eng, cfg.Scheduler.TickInterval.Std(), logger)

	manager.Start()

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		pub:     pub,
		manager: manager,
		sched:   sched,
	}, nil
}

func (a *app) close() {
	_ = a.store.Close()
}

func (a *app) run(ctx context.Context, metricsAddr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("metrics listening", "addr", metricsAddr)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// Fold activity events into the daemon log.
	eventCh := a.pub.Subscribe(events.GlobalReleaseID)
	g.Go(func() error {
		a.logEvents(gctx, eventCh)
		return nil
	})

	// Reconcile immediately so RUNNING crons survive restarts, then on
	// a ticker so releases started from one-shot CLI invocations get a
	// runner here.
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Scheduler.TickInterval.Std())
		defer ticker.Stop()
		for {
			a.reconcile()
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		a.sched.StopAll()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.manager.Stop(shutCtx); err != nil {
			a.logger.Warn("poll manager stop", "error", err)
		}
		_ = srv.Shutdown(shutCtx)
		a.pub.Close()
		return nil
	})

	return g.Wait()
}

// reconcile starts a runner and polling jobs for every release whose
// cron is RUNNING but has no live runner. Completed runners retire on
// their own; paused crons keep their runner and tick against the gate.
func (a *app) reconcile() {
	jobs, err := a.store.ListCronJobsByStatus(release.CronRunning)
	if err != nil {
		a.logger.Error("reconcile: list cron jobs", "error", err)
		return
	}
	for _, job := range jobs {
		if !a.sched.IsRunning(job.ReleaseID) {
			a.logger.Info("starting runner", "release_id", job.ReleaseID)
			a.sched.Start(job.ReleaseID)
		}
		if err := a.manager.CreateJobs(job.ReleaseID); err != nil {
			a.logger.Error("reconcile: create poll jobs",
				"error", err, "release_id", job.ReleaseID)
		}
	}
}

func (a *app) logEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.logger.Info("activity",
				"type", string(ev.Type),
				"release_id", ev.ReleaseID,
				"data", ev.Data)
		}
	}
}
