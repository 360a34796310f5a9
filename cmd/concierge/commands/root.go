// Package commands implements the concierge CLI commands using cobra.
package commands

import (
	"fmt"

	"github.com/jholhewres/concierge/pkg/concierge/config"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "concierge",
		Short: "Concierge - event assistant for group messaging",
		Long: `Concierge is a conversational event assistant. It answers schedule and
venue questions, schedules reminders, broadcasts announcements, and manages
activity and sidebar group chats.

Examples:
  concierge serve
  concierge serve --config ./config.yaml
  concierge reminders list
  concierge config init`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newRemindersCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads the config from --config or the standard locations.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return nil, fmt.Errorf("no config file found. Create one with: concierge config init")
	}
	return config.LoadFromFile(path)
}
