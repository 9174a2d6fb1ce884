// Command coordinator runs the agent orchestration coordinator: the
// single-process service that owns blueprints, sessions, runs, the event
// log and the runner registry (§6).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orbweave/coordinator/internal/api"
	"github.com/orbweave/coordinator/internal/blueprint"
	"github.com/orbweave/coordinator/internal/callback"
	"github.com/orbweave/coordinator/internal/common/config"
	apperrors "github.com/orbweave/coordinator/internal/common/errors"
	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/dispatch"
	"github.com/orbweave/coordinator/internal/events/bus"
	"github.com/orbweave/coordinator/internal/eventlog"
	"github.com/orbweave/coordinator/internal/hooks"
	"github.com/orbweave/coordinator/internal/queue"
	"github.com/orbweave/coordinator/internal/registry"
	"github.com/orbweave/coordinator/internal/schema"
	"github.com/orbweave/coordinator/internal/session"
	"github.com/orbweave/coordinator/internal/store"
	"github.com/orbweave/coordinator/internal/streaming"
)

func main() {
	dataDir := flag.String("data-dir", "", "override store.dataDir")
	listen := flag.String("listen", "", "override server.listen")
	authEnabled := flag.Bool("auth-enabled", false, "require an Authorization header on every request")
	heartbeatStale := flag.Int("heartbeat-stale-seconds", 0, "override dispatch.heartbeatStaleSeconds")
	heartbeatRemove := flag.Int("heartbeat-remove-seconds", 0, "override dispatch.heartbeatRemoveSeconds")
	dispatchTimeout := flag.Int("dispatch-timeout-seconds", 0, "override dispatch.dispatchTimeoutSeconds")
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(64)
	}
	applyFlagOverrides(cfg, *dataDir, *listen, *authEnabled, *heartbeatStale, *heartbeatRemove, *dispatchTimeout)

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting coordinator")

	// 3. Root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Open the durable store
	st, err := store.Open(cfg.Store.DataDir, cfg.Store.DBFileName)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(70)
	}
	defer st.Close()
	log.Info("opened store", zap.String("data_dir", cfg.Store.DataDir))

	// 5. Connect the event bus: NATS if configured, otherwise in-memory
	eventBus, err := newEventBus(cfg, log)
	if err != nil {
		log.Fatal("failed to connect event bus", zap.Error(err))
	}
	if closer, ok := eventBus.(interface{ Close() }); ok {
		defer closer.Close()
	}

	// 6. Event log: durable append + bus fan-out
	events := eventlog.New(st, eventBus, log)

	// 7. Runner registry, rebuilt from durable storage
	reg := registry.New(st, log, cfg.Dispatch.HeartbeatStaleDuration(), cfg.Dispatch.HeartbeatRemoveDuration())
	if err := reg.Load(ctx); err != nil {
		log.Fatal("failed to load runner registry", zap.Error(err))
	}

	// 8. Run queue and dispatcher
	runQueue := queue.NewRunQueue()

	// 9. Schema validator and blueprint resolver
	validator := schema.New()
	resolver := blueprint.StdResolver{}

	// 10. Session machine, hook engine, callback processor and dispatcher
	// form a wiring cycle: the hook engine's SyncInvoker and the callback
	// processor's ParentResumer are the machine itself, and the
	// dispatcher's RunFailer is also the machine. Construct the machine
	// first with its circular dependencies left unset, build the other
	// three against it, then close the loop with the setters below.
	machine := session.New(st, events, nil, resolver, validator, nil, nil, log)
	hookEngine := hooks.New(st, events, log, machine.RunSyncChild)
	callbackProcessor := callback.New(st, machine, log)
	dispatcher := dispatch.New(st, reg, runQueue, machine, log, cfg.Dispatch.DispatchTimeoutDuration())

	machine.SetHooks(hookEngine)
	machine.SetCallbacks(callbackProcessor)
	machine.SetQueue(dispatcher)

	if err := dispatcher.LoadPending(ctx); err != nil {
		log.Fatal("failed to load pending runs", zap.Error(err))
	}
	go dispatcher.RunSweeper(ctx, cfg.Dispatch.DispatchTimeoutDuration()/2)

	reg.OnRunnerRemoved = func(ctx context.Context, runnerID string) {
		runs, err := st.ListActiveRunsByRunner(ctx, runnerID)
		if err != nil {
			log.WithError(err).Error("failed to list active runs for removed runner")
			return
		}
		for _, r := range runs {
			if err := machine.FailRun(ctx, r.ID, apperrors.RunnerDisconnected().Message); err != nil {
				log.WithError(err).WithRunID(r.ID).Error("failed to fail run for removed runner")
			}
		}
	}
	go reg.RunReaper(ctx, cfg.Dispatch.HeartbeatStaleDuration()/2)

	// 11. Streaming hub + server
	hub := streaming.NewHub(log)
	go hub.Run(ctx)
	streamServer := streaming.NewServer(hub, events, log)

	// 12. HTTP handler + router
	handler := api.NewHandler(st, machine, events, reg, dispatcher, streamServer, validator, log)
	router := api.NewRouter(handler, api.RouterConfig{
		AuthEnabled:       cfg.Auth.Enabled,
		RequestsPerSecond: 0,
	}, log)

	server := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 13. Start server
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Listen))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 14. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down coordinator")

	// 15. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("coordinator stopped")
}

func applyFlagOverrides(cfg *config.Config, dataDir, listen string, authEnabled bool, heartbeatStale, heartbeatRemove, dispatchTimeout int) {
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if authEnabled {
		cfg.Auth.Enabled = true
	}
	if heartbeatStale > 0 {
		cfg.Dispatch.HeartbeatStaleSeconds = heartbeatStale
	}
	if heartbeatRemove > 0 {
		cfg.Dispatch.HeartbeatRemoveSeconds = heartbeatRemove
	}
	if dispatchTimeout > 0 {
		cfg.Dispatch.DispatchTimeoutSeconds = dispatchTimeout
	}
}

func newEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, error) {
	if cfg.NATS.URL == "" {
		return bus.NewMemoryEventBus(log), nil
	}
	return bus.NewNATSEventBus(cfg.NATS, log)
}
