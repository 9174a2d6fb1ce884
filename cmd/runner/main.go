// Command runner is the reference runner: a standalone process that
// registers with a coordinator, long-polls for claimable runs, executes
// them, and reports progress and results back (§6 Runner Gateway). The
// coordinator never executes agent logic itself; this binary is one of
// potentially many runner processes that do.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orbweave/coordinator/internal/common/config"
	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/runner"
)

func main() {
	configPath := flag.String("config", "", "directory containing runner.yaml")
	coordinatorURL := flag.String("coordinator-url", "", "override coordinator.baseUrl")
	executorProfile := flag.String("executor-profile", "", "override executor.profile (noop or docker)")
	flag.Parse()

	cfg, err := config.LoadRunnerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load runner configuration: %v\n", err)
		os.Exit(1)
	}
	if *coordinatorURL != "" {
		cfg.Coordinator.BaseURL = *coordinatorURL
	}
	if *executorProfile != "" {
		cfg.Executor.Profile = *executorProfile
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	hostname := cfg.Identity.Hostname
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			log.Fatal("failed to determine hostname", zap.Error(err))
		}
	}

	exec, err := buildExecutor(cfg, log)
	if err != nil {
		log.Fatal("failed to build executor", zap.Error(err))
	}

	client := runner.NewClient(cfg.Coordinator.BaseURL, 30*time.Second)
	r := runner.New(client, exec, runner.Config{
		Hostname:            hostname,
		ProjectDir:          cfg.Identity.ProjectDir,
		Tags:                cfg.Identity.Tags,
		ExecutorProfile:     cfg.Executor.Profile,
		RequireMatchingTags: cfg.Identity.RequireMatchingTags,
		DeclaredAgents:      cfg.Identity.DeclaredAgents,
		HeartbeatInterval:   10 * time.Second,
		PollTimeout:         pollInterval(cfg.Coordinator.PollInterval),
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutting down runner")
		cancel()
	}()

	log.Info("starting runner",
		zap.String("coordinator_url", cfg.Coordinator.BaseURL),
		zap.String("executor_profile", cfg.Executor.Profile),
		zap.String("hostname", hostname),
	)
	if err := r.Run(ctx); err != nil {
		log.Fatal("runner stopped with error", zap.Error(err))
	}
	log.Info("runner stopped")
}

func buildExecutor(cfg *config.RunnerConfig, log *logger.Logger) (runner.Executor, error) {
	switch cfg.Executor.Profile {
	case "", "noop":
		return &runner.NoopExecutor{}, nil
	case "docker":
		return runner.NewDockerExecutor(cfg.Executor.Docker, log)
	default:
		return nil, fmt.Errorf("unknown executor profile %q", cfg.Executor.Profile)
	}
}

func pollInterval(seconds int) time.Duration {
	if seconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(seconds) * time.Second
}
