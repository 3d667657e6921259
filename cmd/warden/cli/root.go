package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute, used by serve for telemetry
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Zero-trust network access control plane",
		Long: `Warden: a zero-trust access control plane for mesh networks.

Warden holds your access rules, knows your hubs, spokes, and gateways, and
answers one question per connection: may this identity reach that address
through this node, and over which routes. Agents heartbeat in, admins manage
policy over the REST API, and every session gets exactly the routes its
rules grant.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./warden.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for SQLite config (default: ~/.warden)")

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newRuleCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newBundleCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("warden")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.warden")
	}

	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
