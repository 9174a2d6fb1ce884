package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/orbweave/coordinator/internal/common/config"
	"github.com/orbweave/coordinator/internal/common/logger"
)

// containerSpec is the subset of a resolved blueprint DockerExecutor turns
// into a container: a name scoped to the run, the image, the run's
// environment, and the coordinator labels buildContainerConfig attaches so
// `docker ps --filter label=coordinator.run_id=...` finds a run's container.
type containerSpec struct {
	Name       string
	Image      string
	Env        []string
	Labels     map[string]string
	AutoRemove bool
}

// containerRuntime is the narrow slice of the Docker SDK DockerExecutor
// needs to run one agent container per run to completion: create, start,
// tail logs, wait for exit, remove. It deliberately does not carry the
// teacher's broader container-management surface (image pulls, kill,
// inspect, interactive attach) — nothing in this coordinator drives a
// long-lived or interactive container.
type containerRuntime struct {
	cli *client.Client
	log *logger.Logger
}

// newContainerRuntime opens a Docker client against cfg.
func newContainerRuntime(cfg config.DockerConfig, log *logger.Logger) (*containerRuntime, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &containerRuntime{cli: cli, log: log}, nil
}

func (r *containerRuntime) ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}

func (r *containerRuntime) createContainer(ctx context.Context, spec containerSpec) (string, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	hostCfg := &container.HostConfig{AutoRemove: spec.AutoRemove}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	r.log.Debug("created agent container", zap.String("container_id", resp.ID), zap.String("name", spec.Name))
	return resp.ID, nil
}

func (r *containerRuntime) startContainer(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", containerID, err)
	}
	return nil
}

func (r *containerRuntime) removeContainer(ctx context.Context, containerID string, force bool) error {
	return r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force, RemoveVolumes: true})
}

func (r *containerRuntime) containerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
}

func (r *containerRuntime) waitContainer(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return -1, fmt.Errorf("wait for container %s: %w", containerID, err)
		}
		return -1, nil
	case status := <-statusCh:
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}
