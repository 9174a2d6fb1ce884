package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orbweave/coordinator/internal/api"
	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/model"
)

// Config carries the identity and polling behavior a Runner registers with.
type Config struct {
	Hostname            string
	ProjectDir          string
	Tags                []string
	ExecutorProfile     string
	RequireMatchingTags bool
	DeclaredAgents      []string
	HeartbeatInterval   time.Duration
	PollTimeout         time.Duration
}

// Runner polls the coordinator for claimable runs and executes them with
// Executor, reporting lifecycle transitions and results back over Client.
type Runner struct {
	client   *Client
	executor Executor
	cfg      Config
	log      *logger.Logger

	runnerID string
}

// New builds a Runner. Call Run to register and start polling.
func New(client *Client, executor Executor, cfg Config, log *logger.Logger) *Runner {
	return &Runner{client: client, executor: executor, cfg: cfg, log: log}
}

// Run registers with the coordinator, starts a heartbeat goroutine, and
// polls for runs until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	runnerID, err := r.client.Register(ctx, api.RunnerRegisterRequest{
		Hostname:            r.cfg.Hostname,
		ProjectDir:          r.cfg.ProjectDir,
		Tags:                r.cfg.Tags,
		ExecutorProfile:     r.cfg.ExecutorProfile,
		RequireMatchingTags: r.cfg.RequireMatchingTags,
		DeclaredAgents:      r.cfg.DeclaredAgents,
	})
	if err != nil {
		return err
	}
	r.runnerID = runnerID
	r.log.Info("registered with coordinator", zap.String("runner_id", runnerID))

	go r.heartbeatLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		claimed, err := r.client.ClaimNext(ctx, r.runnerID, r.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error("failed to poll for runs", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if claimed == nil {
			continue
		}

		r.execute(ctx, claimed)
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Heartbeat(ctx, r.runnerID); err != nil {
				r.log.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// execute runs one claimed run end to end: mark it running, execute it,
// then report completion or failure. Execution errors are reported to the
// coordinator rather than returned, so the poll loop keeps going.
func (r *Runner) execute(ctx context.Context, claimed *ClaimedRun) {
	runID := claimed.Run.ID
	log := r.log.WithRunID(runID).WithAgentName(claimed.Run.AgentName)

	if err := r.client.ReportRunning(ctx, runID); err != nil {
		log.Error("failed to report running", zap.Error(err))
		return
	}

	sink := &eventSink{ctx: ctx, client: r.client, sessionID: claimed.Run.SessionID, runID: runID, log: log}

	result, err := r.executor.Execute(ctx, claimed, sink)
	if err != nil {
		log.Error("run execution failed", zap.Error(err))
		if err := r.client.ReportFailed(ctx, runID, err.Error()); err != nil {
			log.Error("failed to report failure", zap.Error(err))
		}
		return
	}

	if err := r.client.ReportCompleted(ctx, runID, api.CompleteRunRequest{
		ResultText: result.ResultText,
		ResultData: result.ResultData,
	}); err != nil {
		log.Error("failed to report completion", zap.Error(err))
	}
}

// eventSink adapts Client.AppendEvent to the Executor-facing EventSink
// interface, fixing the session and run IDs for the lifetime of one run.
type eventSink struct {
	ctx       context.Context
	client    *Client
	sessionID string
	runID     string
	log       *logger.Logger
}

// Emit implements EventSink.
func (s *eventSink) Emit(eventType model.EventType, payload map[string]interface{}) {
	runID := s.runID
	err := s.client.AppendEvent(s.ctx, api.AppendEventRequest{
		SessionID: s.sessionID,
		RunID:     &runID,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		s.log.Warn("failed to append event", zap.Error(err))
	}
}
