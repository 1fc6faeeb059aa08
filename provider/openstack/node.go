package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/docker/docker/client"
	"github.com/gammadia/warden/fleet"
	"github.com/gammadia/warden/provider/internal"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"golang.org/x/crypto/ssh"
)

type Node struct {
	name      string
	label     string
	image     string
	executors *internal.ExecutorState

	provider *Provider
	server   *servers.Server
	ssh      *ssh.Client
	docker   *client.Client

	online     atomic.Bool
	terminated atomic.Bool

	log *slog.Logger
}

// Node implements fleet.Node
var _ fleet.Node = (*Node)(nil)

func (n *Node) Name() string  { return n.name }
func (n *Node) Label() string { return n.label }
func (n *Node) Image() string { return n.image }

func (n *Node) Executors() int       { return n.executors.Total() }
func (n *Node) Online() bool         { return n.online.Load() }
func (n *Node) IdleExecutors() int   { return n.executors.Idle() }
func (n *Node) IdleSince() time.Time { return n.executors.IdleSince() }

// RequestID exposes the server id while the node is still coming up, so the
// controller can match it against pending capacity.
func (n *Node) RequestID() string {
	if n.online.Load() {
		return ""
	}
	return n.server.ID
}

// UpdateIdleExecutors records executor occupancy reported by the host
// scheduler.
func (n *Node) UpdateIdleExecutors(idle int) {
	n.executors.Update(idle, time.Now())
}

// Connect waits for the server to become ready and establishes the SSH and
// Docker channels the node is driven through. On any failure the node is
// terminated: a half-connected server would otherwise leak.
func (n *Node) Connect(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = n.Terminate()
		}
	}()

	openstackClient := n.provider.client

	n.log.Debug("Waiting for server to become ready", "wait", 2*time.Minute)
	if err = servers.WaitForStatus(openstackClient, n.server.ID, "ACTIVE", 120); err != nil {
		return fmt.Errorf("failed while waiting for server '%s' to become ready: %w", n.name, err)
	}

	address, err := n.ipv4Address()
	if err != nil {
		return err
	}

	initialWait, cmdTimeout, connectAttempts := 5*time.Second, 5*time.Second, 20

	n.log.Debug("Waiting for SSH daemon to start", "wait", initialWait)
	time.Sleep(initialWait)

	n.ssh, err = internal.RetryResultWithContext(ctx, connectAttempts, func() (*ssh.Client, error) {
		return ssh.Dial("tcp", fmt.Sprintf("%s:22", address), &ssh.ClientConfig{
			User:            n.provider.config.SshUsername,
			Timeout:         cmdTimeout,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Auth: []ssh.AuthMethod{
				ssh.PublicKeys(n.provider.privateKey),
			},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to connect to server '%s': %w", n.name, err)
	}

	// Keepalives prevent the connection from dying while the node sits idle
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if n.terminated.Load() {
				return
			}
			if _, _, err := n.ssh.SendRequest("keepalive@warden", true, nil); err != nil {
				n.log.Warn("SSH keepalive failed", "error", err)
				return
			}
		}
	}()

	if n.provider.config.BootstrapFile != "" {
		if err = n.bootstrap(n.provider.config.BootstrapFile); err != nil {
			return fmt.Errorf("failed to bootstrap node '%s': %w", n.name, err)
		}
	}

	n.docker, err = client.NewClientWithOpts(
		client.WithHost(n.provider.config.DockerHost),
		client.WithDialContext(func(ctx context.Context, network, addr string) (net.Conn, error) {
			return internal.RetryResultWithContext(ctx, connectAttempts, func() (net.Conn, error) {
				return n.ssh.Dial(network, addr)
			})
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize docker client: %w", err)
	}

	if err = internal.RetryWithContext(ctx, connectAttempts, func() error {
		_, pingErr := n.docker.Ping(ctx)
		return pingErr
	}); err != nil {
		return fmt.Errorf("failed to reach docker daemon on node '%s': %w", n.name, err)
	}

	n.executors.Update(n.executors.Total(), time.Now())
	n.online.Store(true)
	return nil
}

func (n *Node) ipv4Address() (string, error) {
	pages, err := servers.ListAddresses(n.provider.client, n.server.ID).AllPages()
	if err != nil {
		return "", fmt.Errorf("failed to get server addresses for '%s': %w", n.name, err)
	}

	allAddresses, err := servers.ExtractAddresses(pages)
	if err != nil {
		return "", fmt.Errorf("failed to extract server addresses for '%s': %w", n.name, err)
	}

	for _, addresses := range allAddresses {
		for _, address := range addresses {
			if address.Version == 4 {
				return address.Address, nil
			}
		}
	}
	return "", fmt.Errorf("failed to find IPv4 address for server '%s'", n.name)
}

func (n *Node) Terminate() error {
	if !n.terminated.CompareAndSwap(false, true) {
		return nil
	}
	n.online.Store(false)

	if n.ssh != nil {
		_ = n.ssh.Close()
	}
	if n.docker != nil {
		_ = n.docker.Close()
	}

	err := internal.Retry(3, func() error {
		return servers.Delete(n.provider.client, n.server.ID).ExtractErr()
	})

	n.provider.wg.Done()
	return err
}
