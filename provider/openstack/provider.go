package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gammadia/warden/fleet"
	"github.com/gammadia/warden/namegen"
	"github.com/gammadia/warden/provider/internal"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"golang.org/x/crypto/ssh"
)

type Provider struct {
	name   namegen.ID
	config Config
	client *gophercloud.ServiceClient
	log    *slog.Logger

	keyName    string
	privateKey ssh.Signer

	wg sync.WaitGroup
}

// Provider implements fleet.Provider
var _ fleet.Provider = (*Provider)(nil)

func New(config Config) (*Provider, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}

	authenticated, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	client, err := openstack.NewComputeV2(authenticated, gophercloud.EndpointOpts{
		Region: os.Getenv("OS_REGION_NAME"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}

	name := namegen.Get()
	provider := &Provider{
		name:   name,
		config: config,
		client: client,
		log:    config.Logger,

		keyName: fmt.Sprintf("warden-%s", name),
	}

	keypair, err := keypairs.Create(client, keypairs.CreateOpts{Name: provider.keyName}).Extract()
	if err != nil {
		return nil, fmt.Errorf("failed to create keypair: %w", err)
	}
	provider.privateKey, err = ssh.ParsePrivateKey([]byte(keypair.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	provider.wg.Add(1) // One item for the keypair

	return provider, nil
}

// CountInstances counts servers in a build or running state, optionally
// restricted to one image. Servers started outside this controller count too.
func (p *Provider) CountInstances(ctx context.Context, image string) (int, error) {
	pages, err := servers.List(p.client, servers.ListOpts{}).AllPages()
	if err != nil {
		return 0, fmt.Errorf("failed to list servers: %w", err)
	}

	all, err := servers.ExtractServers(pages)
	if err != nil {
		return 0, fmt.Errorf("failed to extract servers: %w", err)
	}

	count := 0
	for _, server := range all {
		if image != "" && serverImage(server) != image {
			continue
		}
		switch server.Status {
		case "BUILD", "ACTIVE":
			count++
		}
	}
	return count, nil
}

// DescribeRequest maps a server's status to the request lifecycle: a server
// still building is an open request, a running one an active request, and
// anything gone or broken closes it.
func (p *Provider) DescribeRequest(ctx context.Context, id string) (fleet.RequestState, error) {
	server, err := servers.Get(p.client, id).Extract()
	if err != nil {
		if _, notFound := err.(gophercloud.ErrDefault404); notFound {
			return fleet.RequestClosed, nil
		}
		return "", fmt.Errorf("failed to get server '%s': %w", id, err)
	}

	switch server.Status {
	case "BUILD", "REBUILD":
		return fleet.RequestOpen, nil
	case "ACTIVE":
		return fleet.RequestActive, nil
	case "ERROR":
		return fleet.RequestFailed, nil
	case "DELETED", "SOFT_DELETED", "SHELVED", "SHELVED_OFFLOADED":
		return fleet.RequestClosed, nil
	default:
		return fleet.RequestClosed, nil
	}
}

func (p *Provider) Launch(ctx context.Context, template *fleet.Template, name string) (fleet.Node, error) {
	server, err := servers.Create(p.client, keypairs.CreateOptsExt{
		CreateOptsBuilder: servers.CreateOpts{
			Name:           name,
			ImageRef:       template.Image,
			FlavorRef:      template.Flavor,
			Networks:       p.config.Networks,
			SecurityGroups: p.config.SecurityGroups,
			Metadata: map[string]string{
				"warden-provider":       p.name.String(),
				"warden-label":          template.Label,
				"warden-provisioned-at": time.Now().Format(time.RFC3339),
			},
		},
		KeyName: p.keyName,
	}).Extract()
	if err != nil {
		return nil, fmt.Errorf("failed to create server '%s': %w", name, err)
	}

	p.wg.Add(1)
	p.log.Debug("Created server", "server", server.ID, "node", name)

	return &Node{
		name:      name,
		label:     template.Label,
		image:     template.Image,
		executors: internal.NewExecutorState(template.Executors, time.Now()),

		provider: p,
		server:   server,

		log: p.log.With("node", name),
	}, nil
}

func (p *Provider) Shutdown() {
	if err := keypairs.Delete(p.client, p.keyName, nil).ExtractErr(); err != nil {
		p.log.Warn("Failed to delete keypair", "keypair", p.keyName, "error", err)
	}
	p.wg.Done()
}

func (p *Provider) Wait() {
	p.wg.Wait()
}

// serverImage extracts the image id from the server's image attribute, which
// the compute API returns as a loosely typed map.
func serverImage(server servers.Server) string {
	id, _ := server.Image["id"].(string)
	return id
}
