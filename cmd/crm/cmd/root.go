package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crm",
	Short: "CRM session client",
	Long: `crm signs in against the CRM API, keeps the session credential on this
machine and serves the CRM pages behind the session guard.

Configuration is read from defaults, the --config YAML file, CRM_ environment
variables (CRM_AUTH__BASE_URL sets auth.base_url) and flags, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}

		if cfg.Debug {
			pterm.EnableDebugMessages()
		}

		cmd.SetContext(config.InjectConfig(cmd.Context(), cfg))
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.String("base-url", "", "CRM API base URL")
	flags.Duration("request-timeout", 10*time.Second, "Timeout for every API call")
	flags.Duration("revalidate-interval", 5*time.Minute, "How often a running session is checked with the API, 0 disables it")
	flags.String("store", config.StoreFile, "Credential store driver: file or sqlite")
	flags.String("store-dir", "", "Directory holding the credential file")
	flags.String("store-dsn", "", "SQLite DSN for the sqlite store")
	flags.Bool("debug", false, "Print debug output")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(canCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}
