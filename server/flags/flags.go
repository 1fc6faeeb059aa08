package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat         = "log-format"
	LogLevel          = "log-level"
	LogSource         = "log-source"
	Listen            = "listen"
	Provider          = "provider"
	Fleetfile         = "fleetfile"
	FleetfileParams   = "fleetfile-params"
	MaxInstances      = "max-instances"
	TickInterval      = "tick-interval"
	InitialDelay      = "initial-delay"
	RetentionDisabled = "retention-disabled"

	OpenstackNetworks       = "openstack-networks"
	OpenstackSecurityGroups = "openstack-security-groups"
	OpenstackSshUsername    = "openstack-ssh-username"
	OpenstackDockerHost     = "openstack-docker-host"
	OpenstackBootstrapFile  = "openstack-bootstrap-file"
)

func init() {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	// Warden
	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.String(Listen, ":25780", "listening address for the admin API")
	flags.String(Provider, "local", "node provider to use (local, openstack)")
	flags.String(Fleetfile, "Fleetfile.yaml", "path to the fleetfile describing node templates")
	flags.StringToString(FleetfileParams, nil, "parameters exposed to the fleetfile template")
	flags.Int(MaxInstances, 0, "maximum number of instances across all templates, overrides the fleetfile (0 = use fleetfile)")
	flags.Duration(TickInterval, 10*time.Second, "how often to sweep labels for provisioning and retention")
	flags.Duration(InitialDelay, 30*time.Second, "how long to wait before the first sweep")
	flags.Bool(RetentionDisabled, false, "never terminate idle nodes")

	// Openstack
	flags.StringSlice(OpenstackNetworks, nil, "networks attached to the nodes")
	flags.StringSlice(OpenstackSecurityGroups, nil, "security groups defined for the nodes")
	flags.String(OpenstackSshUsername, "", "ssh username used to connect to the nodes")
	flags.String(OpenstackDockerHost, "", "docker host on the nodes")
	flags.String(OpenstackBootstrapFile, "", "script uploaded to and run on every new node")

	// Init
	if err := flags.Parse(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	viper.SetEnvPrefix("warden")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
