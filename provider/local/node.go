package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/gammadia/warden/fleet"
	"github.com/gammadia/warden/provider/internal"
)

type Node struct {
	name      string
	label     string
	image     string
	executors *internal.ExecutorState

	provider    *Provider
	containerID string

	online     atomic.Bool
	terminated atomic.Bool

	log *slog.Logger
}

// Node implements fleet.Node
var _ fleet.Node = (*Node)(nil)

func newNode(provider *Provider, name string, template *fleet.Template, containerID string, log *slog.Logger) *Node {
	return &Node{
		name:      name,
		label:     template.Label,
		image:     template.Image,
		executors: internal.NewExecutorState(template.Executors, time.Now()),

		provider:    provider,
		containerID: containerID,

		log: log,
	}
}

func (n *Node) Name() string  { return n.name }
func (n *Node) Label() string { return n.label }
func (n *Node) Image() string { return n.image }

func (n *Node) Executors() int       { return n.executors.Total() }
func (n *Node) Online() bool         { return n.online.Load() }
func (n *Node) IdleExecutors() int   { return n.executors.Idle() }
func (n *Node) IdleSince() time.Time { return n.executors.IdleSince() }

func (n *Node) RequestID() string {
	if n.online.Load() {
		return ""
	}
	return n.containerID
}

// UpdateIdleExecutors records executor occupancy reported by the host
// scheduler.
func (n *Node) UpdateIdleExecutors(idle int) {
	n.executors.Update(idle, time.Now())
}

// Connect starts the container and waits for it to report running.
func (n *Node) Connect(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = n.Terminate()
		}
	}()

	docker := n.provider.docker

	n.log.Debug("Starting container", "container", n.containerID)
	if err = docker.ContainerStart(ctx, n.containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container '%s': %w", n.containerID, err)
	}

	if err = internal.RetryWithContext(ctx, 10, func() error {
		resp, inspectErr := docker.ContainerInspect(ctx, n.containerID)
		if inspectErr != nil {
			return inspectErr
		}
		if !resp.State.Running {
			return fmt.Errorf("container '%s' is not running (%s)", n.containerID, resp.State.Status)
		}
		return nil
	}); err != nil {
		return err
	}

	n.executors.Update(n.executors.Total(), time.Now())
	n.online.Store(true)
	return nil
}

func (n *Node) Terminate() error {
	if !n.terminated.CompareAndSwap(false, true) {
		return nil
	}
	n.online.Store(false)

	err := internal.Retry(3, func() error {
		return n.provider.docker.ContainerRemove(context.Background(), n.containerID, container.RemoveOptions{
			RemoveVolumes: true,
			Force:         true,
		})
	})

	n.provider.wg.Done()
	return err
}
