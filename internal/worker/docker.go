package worker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRunner executes a bead's spec string as the shell command of a
// throwaway container, blocking until the container exits.
type DockerRunner struct {
	cli            *client.Client
	image          string
	removeOnFinish bool
}

// NewDockerRunner builds a client from the ambient docker environment
// (DOCKER_HOST and friends), running spec strings inside image.
func NewDockerRunner(image string, removeOnFinish bool) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("initializing docker client: %w", err)
	}
	return &DockerRunner{cli: cli, image: image, removeOnFinish: removeOnFinish}, nil
}

// RunSpec creates a container running "sh -c <spec>", waits for it to
// exit, and returns an error if it exited non-zero or could not be
// started. Container stdout/stderr are attached to the returned error
// on failure so a supervisor log captures the failing command's output.
func (r *DockerRunner) RunSpec(ctx context.Context, spec string) error {
	name := fmt.Sprintf("weave-bead-%d", time.Now().UnixNano())

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image: r.image,
		Cmd:   []string{"sh", "-c", spec},
		Tty:   false,
	}, &container.HostConfig{
		AutoRemove: false,
	}, nil, nil, name)
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}

	if r.removeOnFinish {
		defer r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("waiting for container: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("bead exited with status %d: %s", status.StatusCode, r.captureOutput(resp.ID))
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *DockerRunner) captureOutput(containerID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logs, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return ""
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	stdcopy.StdCopy(&stdout, &stderr, logs)
	out := stdout.String()
	if stderr.Len() > 0 {
		out += "\n" + stderr.String()
	}
	return out
}
