package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/todoencadena/agentfabric/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file with default values to the config path.
Edit the file afterwards to set the agent id, control plane URL and model
credentials, then start the daemon.`,
	RunE: runConfigure,
}

var configureForce bool

func init() {
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	existing, err := loader.Load()
	if err == nil && existing.Agent.ID != "" && !configureForce {
		return fmt.Errorf("configuration already exists; use --force to overwrite")
	}

	cfg := config.DefaultConfig()
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println("Starter configuration written.")
	fmt.Println("Set agent.id, control_plane.base_url and a model profile, then run: agentfabric start")
	return nil
}
