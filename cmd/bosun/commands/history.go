package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var historyDB string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVar(&historyDB, "db", "bosun.db", "SQLite run history database")

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var limit, offset int
			limit, _ = cmd.Flags().GetInt("limit")
			offset, _ = cmd.Flags().GetInt("offset")

			store, err := openHistoryStore(cmd.Context(), historyDB)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			for _, run := range runs {
				fmt.Printf("%s  %-10s  %s  %s  (%s)\n",
					run.ID, run.Status,
					run.StartedAt.Format(time.RFC3339),
					run.Playbook,
					(time.Duration(run.Duration) * time.Millisecond).Round(time.Millisecond))
			}
			return nil
		},
	}
	list.Flags().Int("limit", 20, "maximum runs to list")
	list.Flags().Int("offset", 0, "runs to skip")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its group and task outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd.Context(), historyDB)
			if err != nil {
				return err
			}
			defer store.Close()

			detail, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(detail)
			}

			run := detail.Run
			fmt.Printf("run %s: %s  %s  (%s)\n", run.ID, run.Status, run.Playbook,
				(time.Duration(run.Duration) * time.Millisecond).Round(time.Millisecond))
			for _, g := range detail.Groups {
				fmt.Printf("  %-16s %s\n", g.GroupName, g.Status)
				if g.Error != nil {
					fmt.Printf("    error: %s\n", *g.Error)
				}
			}
			for _, t := range detail.Tasks {
				line := fmt.Sprintf("  %s/%s  %s  %s", t.GroupName, t.TaskID, t.Action, t.State)
				if t.Attempts != nil && *t.Attempts > 1 {
					line += fmt.Sprintf("  attempts=%d", *t.Attempts)
				}
				if t.Error != nil {
					line += "  error=" + *t.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	events := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show a run's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd.Context(), historyDB)
			if err != nil {
				return err
			}
			defer store.Close()

			evs, err := store.EventsForRun(cmd.Context(), args[0], 1000, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(evs)
			}

			for _, ev := range evs {
				line := fmt.Sprintf("%s  %-16s", ev.Timestamp.Format(time.RFC3339), ev.Type)
				if ev.GroupName != "" {
					line += "  " + ev.GroupName
				}
				if ev.TaskID != "" {
					line += "/" + ev.TaskID
				}
				if ev.Message != "" {
					line += "  " + ev.Message
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, events)
	return cmd
}
