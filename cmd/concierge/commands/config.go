package commands

import (
	"fmt"
	"os"

	"github.com/jholhewres/concierge/pkg/concierge/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `concierge config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage agent configuration",
		Long: `Manage the concierge configuration.

Examples:
  concierge config init
  concierge config show
  concierge config set-key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			const path = "config.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}

			cfg := config.DefaultConfig()
			cfg.LLM.APIKey = "${CONCIERGE_API_KEY}"
			if err := config.SaveToFile(cfg, path); err != nil {
				return err
			}

			fmt.Printf("Configuration written to ./%s\n", path)
			fmt.Println("Next: set your API key with 'concierge config set-key'.")
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			// Never print the real key.
			if cfg.LLM.APIKey != "" {
				cfg.LLM.APIKey = "(set)"
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			key, err := config.ReadPassword("API key: ")
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("empty key, nothing stored")
			}

			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring not available; set CONCIERGE_API_KEY in the environment instead")
			}
			if err := config.StoreAPIKey(key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}

			fmt.Println("API key stored in the OS keyring.")
			return nil
		},
	}
}
