package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/gammadia/warden/fleet"
	"github.com/samber/lo"
)

const (
	labelProvider      = "warden-provider"
	labelImage         = "warden-image"
	labelFleetLabel    = "warden-label"
	labelProvisionedAt = "warden-provisioned-at"
)

// Provider runs fleet nodes as containers on the local Docker daemon.
// It exists for development and tests; a container stands in for a
// whole compute instance.
type Provider struct {
	config Config
	docker *client.Client
	log    *slog.Logger

	wg sync.WaitGroup
}

// Provider implements fleet.Provider
var _ fleet.Provider = (*Provider)(nil)

func New(config Config) (*Provider, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to init docker client: %w", err)
	}

	return &Provider{
		config: config,
		docker: docker,
		log:    config.Logger,
	}, nil
}

func (p *Provider) CountInstances(ctx context.Context, image string) (int, error) {
	args := filters.NewArgs(filters.Arg("label", labelProvider))
	if image != "" {
		args.Add("label", fmt.Sprintf("%s=%s", labelImage, image))
	}

	containers, err := p.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	return lo.CountBy(containers, func(c container.Summary) bool {
		return c.State == "created" || c.State == "running" || c.State == "restarting"
	}), nil
}

func (p *Provider) DescribeRequest(ctx context.Context, requestID string) (fleet.RequestState, error) {
	resp, err := p.docker.ContainerInspect(ctx, requestID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return fleet.RequestClosed, nil
		}
		return "", fmt.Errorf("failed to inspect container '%s': %w", requestID, err)
	}

	switch resp.State.Status {
	case "created":
		return fleet.RequestOpen, nil
	case "running", "restarting":
		return fleet.RequestActive, nil
	case "exited", "dead":
		if resp.State.ExitCode != 0 {
			return fleet.RequestFailed, nil
		}
		return fleet.RequestClosed, nil
	default:
		return fleet.RequestClosed, nil
	}
}

func (p *Provider) Launch(ctx context.Context, template *fleet.Template, name string) (fleet.Node, error) {
	log := p.log.With("node", name)
	log.Debug("Creating container", "image", template.Image)

	resp, err := p.docker.ContainerCreate(
		ctx,
		&container.Config{
			Image: template.Image,
			Labels: map[string]string{
				labelProvider:      "local",
				labelImage:         template.Image,
				labelFleetLabel:    template.Label,
				labelProvisionedAt: time.Now().Format(time.RFC3339),
			},
		},
		&container.HostConfig{AutoRemove: false},
		nil, nil, name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	p.wg.Add(1)

	return newNode(p, name, template, resp.ID, log), nil
}

func (p *Provider) Shutdown() {
	// Nothing to tear down, the docker daemon outlives us
}

func (p *Provider) Wait() {
	p.wg.Wait()
}
