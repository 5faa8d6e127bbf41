package ingress

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// dockerReloader asks nginx to re-read its configuration by signalling its container.
type dockerReloader struct {
	client    *client.Client
	container string
	signal    string
}

// NewDockerReloader connects to the Docker daemon described by the DOCKER_* environment.
// An empty signal sends HUP, which makes nginx reload without dropping connections.
func NewDockerReloader(container, signal string) (Reloader, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, fmt.Errorf("nginx container name required")
	}
	if signal = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(signal)), "SIG"); signal == "" {
		signal = "HUP"
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &dockerReloader{client: cli, container: container, signal: signal}, nil
}

func (r *dockerReloader) Reload(ctx context.Context) error {
	err := r.client.ContainerKill(ctx, r.container, r.signal)
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err):
		return fmt.Errorf("nginx container %s not found: %w", r.container, err)
	case errdefs.IsConflict(err):
		return fmt.Errorf("nginx container %s is not running: %w", r.container, err)
	default:
		return fmt.Errorf("send SIG%s to %s: %w", r.signal, r.container, err)
	}
}

func (r *dockerReloader) Close() error {
	return r.client.Close()
}
