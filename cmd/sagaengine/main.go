// Command sagaengine wires every package in this module into a runnable
// saga orchestration service: state store, event log, outbox drainer,
// timeout/heartbeat wheel, coordinator, and the read-only inspection API,
// grounded on the teacher's cmd/workflow-runner style top-level wiring
// (explicit constructors, slog throughout, no DI framework).
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sagaflow/engine/compensation"
	sagaconfig "github.com/sagaflow/engine/config"
	"github.com/sagaflow/engine/correlation"
	"github.com/sagaflow/engine/dispatch"
	"github.com/sagaflow/engine/dispatch/kafkadispatch"
	"github.com/sagaflow/engine/dispatch/memorydispatch"
	"github.com/sagaflow/engine/dispatch/natsdispatch"
	"github.com/sagaflow/engine/eventlog"
	"github.com/sagaflow/engine/inspection"
	"github.com/sagaflow/engine/locking"
	"github.com/sagaflow/engine/metrics"
	"github.com/sagaflow/engine/orchestrator"
	"github.com/sagaflow/engine/outbox"
	"github.com/sagaflow/engine/saga"
	"github.com/sagaflow/engine/store"
	"github.com/sagaflow/engine/store/memstore"
	"github.com/sagaflow/engine/store/pgstore"
	"github.com/sagaflow/engine/store/sqlitestore"
	"github.com/sagaflow/engine/timerwheel"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", ":8080", "inspection API listen address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := &sagaconfig.Config{}
	if *configPath != "" {
		loaded, err := sagaconfig.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg, _ = sagaconfig.Parse(nil)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stateStore, lock, closeStore := mustBuildStore(ctx, cfg.Store, logger)
	defer closeStore()

	eventLog, closeEventLog := mustBuildEventLog(ctx, cfg.Store, logger)
	defer closeEventLog()
	outboxStore := outbox.NewMemStore()
	dispatcher := mustBuildDispatcher(cfg.Dispatch, logger)

	definitions := saga.NewRegistry()
	handlers := orchestrator.NewHandlerRegistry()
	compHandlers := compensation.NewHandlerRegistry()

	registerSampleDefinition(definitions, handlers, compHandlers, logger)

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	// coordinator is assigned after construction below; the wheel's OnFire
	// closure captures it by reference since both depend on each other.
	var coordinator *orchestrator.Coordinator
	wheel := timerwheel.New(timerwheel.Config{
		Logger:  logger,
		Metrics: collector,
		OnFire: func(ctx context.Context, t timerwheel.Timer) {
			switch t.Kind {
			case timerwheel.KindTimeout:
				if err := coordinator.TimeoutSaga(ctx, t.SagaID); err != nil {
					logger.Error("saga timeout handling failed", "saga_id", t.SagaID, "error", err)
				}
			case timerwheel.KindHeartbeat:
				logger.Debug("saga heartbeat fired", "saga_id", t.SagaID, "step", t.StepName)
			}
		},
	})
	go wheel.Run(ctx)

	coordinator = orchestrator.NewCoordinator(ctx, orchestrator.CoordinatorConfig{
		Definitions: definitions,
		Store:       stateStore,
		Events:      eventLog,
		Outbox:      outboxStore,
		Lock:        lock,
		Handlers:    handlers,
		CompRunner:  compensation.NewRunner(compHandlers, logger),
		Correlation: correlation.NewMemIndex(),
		Scheduler:   wheel,
		Metrics:     collector,
		ShardCount:  cfg.MaxConcurrency / 16,
		ShardQueue:  128,
		Logger:      logger,
	})
	defer coordinator.Stop()

	drainer := outbox.NewDrainer(outboxStore, dispatcher, lock, outbox.DrainerConfig{
		ShardCount:   cfg.OutboxShardCount,
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    50,
		LeaseTTL:     5 * time.Second,
		MaxAttempts:  8,
		Metrics:      collector,
	}, logger)
	drainer.Start(ctx)
	defer drainer.Stop()

	mux := http.NewServeMux()
	inspection.NewHandler(coordinator, definitions).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Info("inspection API listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("inspection API server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func mustBuildStore(ctx context.Context, cfg sagaconfig.StoreConfig, logger *slog.Logger) (store.StateStore, locking.DistributedLock, func()) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlitestore.Open(cfg.DSN)
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		return s, locking.NewInMemoryLock(), func() { _ = s.Close() }
	case "postgres":
		s, err := pgstore.Open(ctx, cfg.DSN)
		if err != nil {
			logger.Error("failed to open postgres store", "error", err)
			os.Exit(1)
		}
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			logger.Error("failed to open postgres lock connection", "error", err)
			os.Exit(1)
		}
		lock := locking.NewPGAdvisoryLock(db)
		return s, lock, func() { s.Close(); _ = db.Close() }
	default:
		return memstore.New(), locking.NewInMemoryLock(), func() {}
	}
}

// mustBuildEventLog pairs the event log backend with the state store driver:
// postgres gets a durable, transactionally-appended log, everything else
// (including sqlite, which has no dedicated event log backend yet) falls
// back to the in-memory log.
func mustBuildEventLog(ctx context.Context, cfg sagaconfig.StoreConfig, logger *slog.Logger) (eventlog.Log, func()) {
	switch cfg.Driver {
	case "postgres":
		l, err := eventlog.OpenPGLog(ctx, cfg.DSN)
		if err != nil {
			logger.Error("failed to open postgres event log", "error", err)
			os.Exit(1)
		}
		return l, l.Close
	default:
		return eventlog.NewMemLog(), func() {}
	}
}

func mustBuildDispatcher(cfg sagaconfig.DispatchConfig, logger *slog.Logger) dispatch.Dispatcher {
	switch cfg.Driver {
	case "nats":
		url := "nats://127.0.0.1:4222"
		if len(cfg.Brokers) > 0 {
			url = cfg.Brokers[0]
		}
		return natsdispatch.New(url, logger)
	case "kafka":
		return kafkadispatch.New(cfg.Brokers, logger)
	default:
		return memorydispatch.New(nil)
	}
}

// registerSampleDefinition wires a minimal one-step saga so the service has
// something to run out of the box; real deployments register their own
// definitions and handlers before starting the coordinator.
func registerSampleDefinition(definitions *saga.Registry, handlers *orchestrator.HandlerRegistry, compHandlers *compensation.HandlerRegistry, logger *slog.Logger) {
	def := &saga.Definition{
		Name:    "noop",
		Version: 1,
		Steps: []saga.StepDefinition{
			{Name: "noop-step", HandlerName: "noop"},
		},
	}
	if err := definitions.Register(def); err != nil {
		logger.Error("failed to register sample definition", "error", err)
		return
	}
	handlers.Register("noop", orchestrator.StepHandlerFunc(func(_ context.Context, in map[string]any) (map[string]any, error) {
		return in, nil
	}))
}
