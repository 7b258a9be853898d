package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bosunhq/bosun/pkg/inventory"
)

func newInventoryCommand() *cobra.Command {
	var (
		probe        bool
		probeTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Show the parsed inventory",
		Long: `Parse the inventory file and print its host groups.

Useful for checking group names, endpoint addresses, and group vars before
running a playbook against them.`,
		Example: `  bosun inventory
  bosun -i production.yaml inventory --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := inventory.Load(inventoryPath)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(inv)
			}

			board := inventory.NewStatusBoard()
			dialer := inventory.TCPDialer(probeTimeout)

			for _, name := range inv.GroupNames() {
				group, err := inv.Resolve(name)
				if err != nil {
					return err
				}

				groupLine := fmt.Sprintf("%s (%d hosts)", name, len(group.Hosts))
				if probe {
					prober := inventory.NewProber(group, dialer, board, inventory.ProbeConfig{Attempts: 1})
					if err := prober.Probe(cmd.Context()); err != nil {
						groupLine += "  UNREACHABLE: " + err.Error()
					} else {
						groupLine += "  reachable"
					}
				}
				fmt.Println(groupLine)

				for _, ep := range group.Hosts {
					line := "  " + ep.Address()
					if ep.User != "" {
						line += " user=" + ep.User
					}
					fmt.Println(line)
				}
				for k, v := range group.Vars {
					fmt.Printf("  var %s=%v\n", k, v)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "check TCP reachability of every group")
	cmd.Flags().DurationVar(&probeTimeout, "probe-timeout", 5*time.Second, "per-endpoint probe timeout")

	return cmd
}
