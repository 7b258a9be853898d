package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	inventoryPath string
	jsonOutput    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bosun",
		Short: "Bosun - idempotent provisioning orchestrator",
		Long: `Bosun executes declarative playbooks against groups of hosts over SSH.

Tasks run sequentially inside a host group and concurrently across groups,
with guard conditions, fixed-delay retries, and per-group fact scoping.

Features:
  - YAML and CUE playbooks
  - Starlark guard expressions over registered facts
  - Built-in actions for packages, files, services, firewalls, and VMs
  - OPA/Rego policy gate before any host is touched
  - SQLite-backed run history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&inventoryPath, "inventory", "i", "inventory.yaml", "inventory file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newInventoryCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
