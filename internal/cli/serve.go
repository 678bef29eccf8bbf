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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-remediate/internal/api"
	"github.com/miradorstack/mirador-remediate/internal/cache"
	"github.com/miradorstack/mirador-remediate/internal/config"
	"github.com/miradorstack/mirador-remediate/internal/engine"
	"github.com/miradorstack/mirador-remediate/internal/executor"
	"github.com/miradorstack/mirador-remediate/internal/gate"
	"github.com/miradorstack/mirador-remediate/internal/ingest"
	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/rules"
	"github.com/miradorstack/mirador-remediate/internal/scorer"
	"github.com/miradorstack/mirador-remediate/internal/service"
	"github.com/miradorstack/mirador-remediate/internal/store"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

// NewServeCommand runs the engine until interrupted.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "serve",
		Short:         "Run the remediation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts.ConfigPath)
		},
	}
}

func runServe(parentCtx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-remediate",
		slog.String("version", Version),
		slog.String("grpc_address", cfg.Server.GRPCAddress),
		slog.String("http_address", cfg.Server.HTTPAddress),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("store close failed", slog.Any("error", closeErr))
		}
	}()

	pack, err := rules.LoadPack(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("load rule pack: %w", err)
	}
	rulesEngine := rules.NewEngine(pack, logger)
	metrics.SetRulesLoaded(len(pack.Rules))
	logger.Info("rule pack loaded",
		slog.String("path", cfg.Rules.Path),
		slog.Int("rules", len(pack.Rules)),
		slog.String("checksum", pack.Checksum),
	)

	safetyGate := gate.NewSafetyGate(cfg.Gate.GlobalMaxConcurrent, logger)

	source, err := buildSource(cfg.Collector, logger)
	if err != nil {
		return err
	}
	scorerAdapter, err := buildScorer(cfg, logger)
	if err != nil {
		return err
	}

	actionClient := executor.NewActionClient(
		cfg.Executor.BaseURL,
		cfg.Executor.DispatchPath,
		cfg.Executor.StatusPath,
		cfg.Executor.APIKey,
		cfg.Executor.Timeout,
	)
	runner := executor.NewExecutor(
		actionClient,
		cfg.Executor.Timeout,
		cfg.Executor.BackoffBase,
		cfg.Executor.BackoffCap,
		logger,
	)

	coordinator := engine.NewCoordinator(
		logger,
		source,
		scorerAdapter,
		rulesEngine,
		safetyGate,
		runner,
		actionClient,
		st,
		st,
		cfg.Collector.Interval,
		cfg.Server.DrainTimeout,
	)

	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reconcile executions a previous run left behind before accepting work.
	if err := coordinator.Recover(ctx); err != nil {
		return fmt.Errorf("recover executions: %w", err)
	}

	if cfg.Rules.Watch {
		watcher := rules.NewWatcher(cfg.Rules.Path, rulesEngine, logger)
		go func() {
			if watchErr := watcher.Run(ctx); watchErr != nil {
				logger.Warn("rule watcher stopped", slog.Any("error", watchErr))
			}
		}()
	}

	statusService := service.NewStatusService(scorerAdapter, safetyGate, coordinator, rulesEngine, Version)
	push, _ := source.(*ingest.PushSource)
	handlers := api.NewHandlers(statusService, st, st, rulesEngine, push, logger)
	adminServer := api.NewAdminServer(cfg.Server, handlers, logger)

	probeServer, err := api.NewProbeServer(cfg.Server)
	if err != nil {
		return fmt.Errorf("create probe server: %w", err)
	}

	go func() {
		logger.Info("admin server listening", slog.String("address", cfg.Server.HTTPAddress))
		if serveErr := adminServer.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("admin server exited", slog.Any("error", serveErr))
			stop()
		}
	}()
	go func() {
		logger.Info("probe server listening", slog.String("address", probeServer.Address()))
		if serveErr := probeServer.Start(); serveErr != nil {
			logger.Error("probe server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	// Flip gRPC health the moment shutdown starts so load balancers stop
	// routing while the coordinator drains.
	go func() {
		<-ctx.Done()
		probeServer.SetDraining()
	}()

	if cfg.Store.Retention > 0 {
		go prune(ctx, st, cfg.Store.Retention, logger)
	}

	if runErr := coordinator.Run(ctx); runErr != nil {
		return fmt.Errorf("coordinator: %w", runErr)
	}

	logger.Info("shutting down servers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	probeServer.Shutdown(shutdownCtx)

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 5*time.Second)
	if err := adminServer.Shutdown(httpCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("admin server shutdown", slog.Any("error", err))
	}
	cancelHTTP()

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("mirador-remediate stopped")
	return nil
}

func buildSource(cfg config.CollectorConfig, logger *slog.Logger) (ingest.Source, error) {
	switch cfg.Mode {
	case config.CollectorModeLocal:
		return ingest.NewLocalSource(logger), nil
	case config.CollectorModeRemote:
		return ingest.NewRemoteSource(cfg.BaseURL, cfg.SnapshotPath, cfg.Timeout), nil
	case config.CollectorModePush:
		return ingest.NewPushSource(cfg.PushBuffer), nil
	default:
		return nil, fmt.Errorf("unknown collector mode %q", cfg.Mode)
	}
}

func buildScorer(cfg *config.Config, logger *slog.Logger) (*scorer.Adapter, error) {
	var model scorer.Model
	switch cfg.Scorer.Mode {
	case config.ScorerModeBuiltin:
		model = scorer.NewBuiltinModel(cfg.Scorer.BaselineWindow, cfg.Scorer.MinBaseline)
	case config.ScorerModeRemote:
		model = scorer.NewRemoteModel(cfg.Scorer.URL, cfg.Scorer.Timeout)
	default:
		return nil, fmt.Errorf("unknown scorer mode %q", cfg.Scorer.Mode)
	}

	var provider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		memory, err := cache.NewMemoryProvider(cfg.Cache.TTL, cfg.Cache.MaxSizeMB)
		if err != nil {
			logger.Warn("score cache unavailable", slog.Any("error", err))
		} else {
			provider = memory
		}
	}

	return scorer.NewAdapter(
		model,
		cfg.Scorer.Timeout,
		cfg.Scorer.HealthWindow,
		cfg.Scorer.MaxErrorRate,
		provider,
		logger,
	), nil
}

func prune(ctx context.Context, st *store.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().UTC().Add(-retention)
		pruned, err := st.Prune(ctx, cutoff)
		if err != nil {
			logger.Warn("retention prune failed", slog.Any("error", err))
		} else if pruned > 0 {
			logger.Info("retention prune", slog.Int64("rows", pruned), slog.Time("cutoff", cutoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
