package openstack

import (
	"log/slog"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

type Config struct {
	// Logger to use
	Logger *slog.Logger
	// Networks attached to the nodes
	Networks []servers.Network
	// SecurityGroups defined for the nodes
	SecurityGroups []string
	// SshUsername used to connect to the nodes
	SshUsername string
	// DockerHost on the nodes
	DockerHost string
	// BootstrapFile is a local script uploaded to and run on every new node,
	// empty = no bootstrap
	BootstrapFile string
}
