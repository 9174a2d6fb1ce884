package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orbweave/coordinator/internal/common/config"
	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/model"
)

// ExecutionResult is what an Executor hands back once a run finishes.
// Exactly one of ResultText/ResultData should be set, mirroring
// model.ResultPayload.
type ExecutionResult struct {
	ResultText *string
	ResultData map[string]interface{}
}

// EventSink lets an Executor report progress while a run is still in
// flight, without depending on Client directly.
type EventSink interface {
	Emit(eventType model.EventType, payload map[string]interface{})
}

// Executor runs one claimed run to completion. Implementations decide how:
// in-process for testing, or inside an isolated container.
type Executor interface {
	Execute(ctx context.Context, claimed *ClaimedRun, sink EventSink) (*ExecutionResult, error)
}

// NoopExecutor does no real work: it echoes the run's parameters back as
// result_data when the agent declares an output_schema, and otherwise
// returns a fixed "noop run of <agent> completed" result text. It exists to exercise the coordinator's full run lifecycle
// (claim, running, events, completion) in tests and local smoke runs
// without a container runtime.
type NoopExecutor struct {
	Delay time.Duration
}

// Execute implements Executor.
func (e *NoopExecutor) Execute(ctx context.Context, claimed *ClaimedRun, sink EventSink) (*ExecutionResult, error) {
	sink.Emit(model.EventMessage, map[string]interface{}{"text": fmt.Sprintf("noop executor running %s", claimed.Run.AgentName)})

	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if claimed.Blueprint != nil && claimed.Blueprint.OutputSchema != nil {
		return &ExecutionResult{ResultData: map[string]interface{}{"parameters": claimed.Run.Parameters}}, nil
	}
	text := fmt.Sprintf("noop run of %s completed", claimed.Run.AgentName)
	return &ExecutionResult{ResultText: &text}, nil
}

// DockerExecutor runs a blueprint's resolved snapshot inside a fresh
// container per run, one container at a time, tearing it down afterward.
// Modeled on the lifecycle manager's launch sequence: build a container
// config from the blueprint, create and start it, stream logs as message
// events, wait for it to exit, and read the last non-empty line of its
// combined log output as the result payload.
type DockerExecutor struct {
	runtime *containerRuntime
	image   string
	log     *logger.Logger
}

// NewDockerExecutor opens a Docker client against cfg and wraps it.
func NewDockerExecutor(cfg config.DockerConfig, log *logger.Logger) (*DockerExecutor, error) {
	rt, err := newContainerRuntime(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := rt.ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}
	return &DockerExecutor{runtime: rt, image: cfg.Image, log: log}, nil
}

// Execute implements Executor.
func (e *DockerExecutor) Execute(ctx context.Context, claimed *ClaimedRun, sink EventSink) (*ExecutionResult, error) {
	spec := e.buildContainerSpec(claimed)

	containerID, err := e.runtime.createContainer(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		if err := e.runtime.removeContainer(context.Background(), containerID, true); err != nil {
			e.log.Warn("failed to remove agent container", zap.String("container_id", containerID), zap.Error(err))
		}
	}()

	if err := e.runtime.startContainer(ctx, containerID); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	lastLine := e.streamLogs(ctx, containerID, sink)

	exitCode, err := e.runtime.waitContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("wait for container: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("agent container exited with code %d", exitCode)
	}

	if claimed.Blueprint != nil && claimed.Blueprint.OutputSchema != nil {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(lastLine), &data); err != nil {
			return nil, fmt.Errorf("agent container's final output line is not valid JSON for its output_schema: %w", err)
		}
		return &ExecutionResult{ResultData: data}, nil
	}

	result := lastLine
	return &ExecutionResult{ResultText: &result}, nil
}

// streamLogs tails the container's combined output, emitting each line as
// a message event, and returns the last non-empty line seen (the agent's
// convention for its final result text).
func (e *DockerExecutor) streamLogs(ctx context.Context, containerID string, sink EventSink) string {
	reader, err := e.runtime.containerLogs(ctx, containerID)
	if err != nil {
		e.log.Warn("failed to stream container logs", zap.String("container_id", containerID), zap.Error(err))
		return ""
	}
	defer reader.Close()

	var last string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		last = line
		sink.Emit(model.EventMessage, map[string]interface{}{"text": line})
	}
	return last
}

func (e *DockerExecutor) buildContainerSpec(claimed *ClaimedRun) containerSpec {
	env := []string{
		fmt.Sprintf("RUN_ID=%s", claimed.Run.ID),
		fmt.Sprintf("SESSION_ID=%s", claimed.Run.SessionID),
		fmt.Sprintf("AGENT_NAME=%s", claimed.Run.AgentName),
	}
	if prompt, ok := claimed.Run.ResolvedBlueprint["system_prompt"].(string); ok && prompt != "" {
		env = append(env, fmt.Sprintf("SYSTEM_PROMPT=%s", prompt))
	}

	image := e.image
	if bpImage, ok := claimed.Run.ResolvedBlueprint["image"].(string); ok && bpImage != "" {
		image = bpImage
	}

	return containerSpec{
		Name:       fmt.Sprintf("coordinator-run-%s", claimed.Run.ID),
		Image:      image,
		Env:        env,
		AutoRemove: false,
		Labels: map[string]string{
			"coordinator.managed": "true",
			"coordinator.run_id":  claimed.Run.ID,
			"coordinator.session": claimed.Run.SessionID,
			"coordinator.agent":   claimed.Run.AgentName,
		},
	}
}
