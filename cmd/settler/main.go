package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/batch"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/config"
	"github.com/jensholdgaard/auction-settlement/internal/health"
	"github.com/jensholdgaard/auction-settlement/internal/leader"
	"github.com/jensholdgaard/auction-settlement/internal/scheduler"
	"github.com/jensholdgaard/auction-settlement/internal/store"
	"github.com/jensholdgaard/auction-settlement/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/auction-settlement/internal/store/boltstore"
	_ "github.com/jensholdgaard/auction-settlement/internal/store/entstore"
	_ "github.com/jensholdgaard/auction-settlement/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	once := flag.Bool("once", false, "run a single settlement pass and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath, *once); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Telemetry.ServiceVersion = version

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
		tp.Logger = slog.Default()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "store opened", slog.String("driver", cfg.Database.Driver))

	evaluator := auction.HighestBid{}
	notifier, err := buildNotifier(cfg.Notifier, repos, evaluator, clk, logger)
	if err != nil {
		return fmt.Errorf("building notifier: %w", err)
	}

	closer, err := batch.NewCloser(repos.Auctions, notifier, logger, tp.TracerProvider, tp.MeterProvider,
		batch.WithClock(clk),
		batch.WithMinAge(cfg.Closing.MinAgeDays),
		batch.WithWorkers(cfg.Closing.Workers),
	)
	if err != nil {
		return fmt.Errorf("creating closer: %w", err)
	}
	generator, err := batch.NewPaymentGenerator(repos.Auctions, repos.Payments, evaluator, clk,
		logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating payment generator: %w", err)
	}

	sched := scheduler.New(closer, generator, clk, logger)

	if once {
		r := sched.RunOnce(ctx)
		return r.Err
	}

	healthHandler := health.NewHandler(clk, sched,
		health.Checker{Name: "database", Check: repos.Ping},
		health.Checker{Name: "settlement", Check: sched.Check},
	)

	// The health server runs on every replica.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           healthHandler.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting health server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "health server error", slog.Any("error", listenErr))
		}
	}()

	// settle runs the schedule until ctx is done. Only the leader calls it.
	settle := func(ctx context.Context) {
		if cfg.Schedule.RunOnStart {
			sched.RunOnce(ctx)
		}
		if startErr := sched.Start(ctx, cfg.Schedule.Cron); startErr != nil {
			logger.ErrorContext(ctx, "starting scheduler failed", slog.Any("error", startErr))
			return
		}

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "settler is running", slog.String("version", version))

		<-ctx.Done()

		healthHandler.SetReady(false)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()
		if stopErr := sched.Stop(stopCtx); stopErr != nil {
			logger.Error("scheduler shutdown error", slog.Any("error", stopErr))
		}
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...",
			slog.String("backend", cfg.LeaderElection.Backend))

		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, settle, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		settle(ctx)
		logger.Info("shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
