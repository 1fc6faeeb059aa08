package main

import (
	"encoding/json"
	"fmt"

	"github.com/gammadia/warden/fleet"
	"github.com/gammadia/warden/fleetfile"
	"github.com/gammadia/warden/provider/local"
	"github.com/gammadia/warden/provider/openstack"
	"github.com/gammadia/warden/server/flags"
	"github.com/gammadia/warden/server/log"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

var (
	fleetSource *fleetfile.Fleet
	registry    fleet.Registry
	controller  *fleet.Controller
	retention   *fleet.RetentionPolicy
	driver      *fleet.Driver
	provider    fleet.Provider
)

func createFleet() error {
	var err error

	fleetSource, err = fleetfile.Read(viper.GetString(flags.Fleetfile), fleetfile.ReadOptions{
		Params: viper.GetStringMapString(flags.FleetfileParams),
	})
	if err != nil {
		return fmt.Errorf("unable to read fleetfile '%s': %w", viper.GetString(flags.Fleetfile), err)
	}

	provider, err = createProvider()
	if err != nil {
		return fmt.Errorf("unable to create provider '%s': %w", viper.GetString(flags.Provider), err)
	}

	maxInstances := fleetSource.MaxInstances
	if override := viper.GetInt(flags.MaxInstances); override > 0 {
		maxInstances = override
	}

	config := fleet.Config{
		Logger:            log.Base.With("component", "fleet"),
		MaxInstances:      maxInstances,
		RetentionDisabled: viper.GetBool(flags.RetentionDisabled),
		TickInterval:      viper.GetDuration(flags.TickInterval),
		InitialDelay:      viper.GetDuration(flags.InitialDelay),
	}
	if err := fleet.Validate(config); err != nil {
		return fmt.Errorf("invalid fleet config: %w", err)
	}

	registry = fleet.NewRegistry()
	controller = fleet.NewController(provider, registry, fleetSource, config)
	retention = fleet.NewRetentionPolicy(registry, fleetSource, config)
	driver = fleet.NewDriver(controller, retention, config)

	serverStatus.Provider = viper.GetString(flags.Provider)
	serverStatus.MaxInstances = maxInstances
	serverStatus.Labels = fleetSource.Labels()

	return nil
}

func createProvider() (fleet.Provider, error) {
	logger := log.Base.With("component", "provider")
	switch p := viper.GetString(flags.Provider); p {
	case "local":
		config := local.Config{
			Logger: logger,
		}
		return local.New(config)

	case "openstack":
		config := openstack.Config{
			Logger: logger,
			Networks: lo.Map(
				viper.GetStringSlice(flags.OpenstackNetworks),
				func(s string, _ int) servers.Network {
					return servers.Network{UUID: s}
				},
			),
			SecurityGroups: viper.GetStringSlice(flags.OpenstackSecurityGroups),
			SshUsername:    viper.GetString(flags.OpenstackSshUsername),
			DockerHost:     viper.GetString(flags.OpenstackDockerHost),
			BootstrapFile:  viper.GetString(flags.OpenstackBootstrapFile),
		}
		logger.Debug("Provider config", "provider", p, "config", string(lo.Must(json.Marshal(config))))
		return openstack.New(config)

	default:
		return nil, fmt.Errorf("unknown provider")
	}
}
