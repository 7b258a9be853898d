package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bosunhq/bosun/pkg/inventory"
	"github.com/bosunhq/bosun/pkg/invoker"
	"github.com/bosunhq/bosun/pkg/playbook"
)

func newValidateCommand() *cobra.Command {
	var (
		watch       bool
		environment string
		policyPaths []string
		noPolicy    bool
	)

	cmd := &cobra.Command{
		Use:   "validate <playbook>",
		Short: "Validate a playbook against the inventory and policies",
		Long: `Validate a playbook without touching any host.

This command checks:
  - YAML/CUE syntax and required fields
  - That every referenced group exists in the inventory
  - That every action is known and its task definition converts cleanly
  - Policy compliance (OPA/Rego)`,
		Example: `  # One-shot validation
  bosun validate site.yaml

  # Re-validate on every save while editing
  bosun validate site.cue --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			playbookPath := args[0]

			check := func() error {
				return validateOnce(ctx, playbookPath, environment, policyPaths, noPolicy)
			}

			if err := check(); err != nil {
				if !watch {
					return err
				}
				log.Error().Err(err).Msg("validation failed")
			} else {
				log.Info().Str("playbook", playbookPath).Msg("playbook is valid")
			}

			if !watch {
				return nil
			}

			watcher, err := playbook.NewWatcher([]string{playbookPath, inventoryPath}, func(path string) {
				log.Info().Str("path", path).Msg("file changed, re-validating")
				if err := check(); err != nil {
					log.Error().Err(err).Msg("validation failed")
					return
				}
				log.Info().Str("playbook", playbookPath).Msg("playbook is valid")
			})
			if err != nil {
				return err
			}

			log.Info().Msg("watching for changes, ctrl-c to stop")
			if err := watcher.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-validate whenever the playbook or inventory changes")
	cmd.Flags().StringVar(&environment, "environment", "", "environment name visible to policies")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy gate")

	return cmd
}

func validateOnce(ctx context.Context, playbookPath, environment string, policyPaths []string, noPolicy bool) error {
	pb, err := playbook.NewParser().LoadFile(playbookPath)
	if err != nil {
		return err
	}

	inv, err := inventory.Load(inventoryPath)
	if err != nil {
		return fmt.Errorf("inventory: %w", err)
	}

	if err := playbook.NewParser().Check(pb, inv, invoker.NewDefaultRegistry()); err != nil {
		return err
	}

	if noPolicy {
		return nil
	}
	return runPolicyGate(ctx, pb, environment, policyPaths, "validate")
}
