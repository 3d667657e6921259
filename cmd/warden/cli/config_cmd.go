package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Warden configuration",
		Long:  "Initialize a default configuration file, display the effective configuration, or manage runtime settings.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default warden.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

const defaultConfig = `# Warden Configuration

server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 30s
  cors:
    allowed_origins:
      - "*"

# Base URL agents use to reach this control plane. Pushed to hubs
# during provisioning. Defaults to the listen address.
control_plane:
  url: ""

# Authentication
auth:
  jwt_secret: ""  # Set via WARDEN_AUTH_JWT_SECRET env var

# Rate limiting (requests per minute per client IP, 0 disables)
rate_limit:
  requests_per_minute: 600

# Logging
log:
  level: info    # debug, info, warn, error
`

func runConfigInit(force bool) error {
	path := "warden.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Edit the file, then run 'warden serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigShow() error {
	// Ensure config is loaded
	initConfig()

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("Config file: %s\n", configFile)
	} else {
		fmt.Println("Config file: (none found, using defaults)")
	}
	fmt.Println()

	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("No configuration settings loaded.")
		fmt.Println("Run 'warden config init' to create a default configuration file.")
		return nil
	}

	for key, value := range settings {
		fmt.Printf("  %s: %v\n", key, value)
	}

	return nil
}

// ---------- config set / get (runtime settings in the store) ----------

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a runtime setting in the config store",
		Example: `  warden config set telemetry.enabled false`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			if err := store.SetSetting(context.Background(), args[0], args[1]); err != nil {
				return fmt.Errorf("set %s: %w", args[0], err)
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a runtime setting from the config store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			val, err := store.GetSetting(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get %s: %w", args[0], err)
			}
			fmt.Println(val)
			return nil
		},
	}

	return cmd
}
