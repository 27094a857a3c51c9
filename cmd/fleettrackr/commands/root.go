// Package commands is the fleettrackr command tree.
package commands

import (
	"github.com/spf13/cobra"

	"fleettrackr/config"
	"fleettrackr/logging"
)

var (
	configPath       string
	logLevelOverride string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fleettrackr",
		Short:         "FleetTrackR insurance renewals",
		Long:          `fleettrackr lets vehicle owners and insurance agents negotiate policy renewals from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return logging.Configure(cfg.Log, logging.Options{Level: logLevelOverride, Service: "fleettrackr"})
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.fleettrackr/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewLoginCmd(),
		NewWhoamiCmd(),
		NewRequestsCmd(),
		NewRequestRenewalCmd(),
		NewProposeCmd(),
		NewAgentsCmd(),
		NewExpiringCmd(),
		NewStatsCmd(),
		NewNotificationsCmd(),
		NewVehiclesCmd(),
	)
	cmd.AddCommand(NewTransitionCmds()...)

	return cmd
}
