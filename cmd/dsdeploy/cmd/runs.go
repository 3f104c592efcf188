package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"dsdeploy/pkg/models"
	"dsdeploy/pkg/store"
)

var runsLimit int

// runsCmd groups run history commands
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded pipeline runs",
}

// runsListCmd lists recent runs
var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE:  runRunsList,
}

// runsShowCmd shows one run in full
var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run record including per-task results",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openStore() (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewStore(store.Config{
		Type: cfg.Store.Type,
		DSN:  cfg.Store.DSN,
		Path: cfg.Store.Path,
	})
}

func runRunsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Started", "Outcome", "Tasks", "Duration")

	for _, run := range runs {
		counts := run.TaskCounts()
		table.Append(
			run.ID,
			run.StartedAt.Format(time.RFC3339),
			string(run.Outcome),
			fmt.Sprintf("%d ok / %d failed / %d skipped",
				counts[models.TaskSucceeded], counts[models.TaskFailed], counts[models.TaskSkipped]),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
		)
	}
	table.Render()
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(args[0])
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", args[0], err)
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Run:       %s\n", run.ID)
	if run.Version != "" {
		fmt.Printf("Version:   %s\n", run.Version)
	}
	fmt.Printf("As of:     %s\n", run.AsOf.Format(time.RFC3339))
	fmt.Printf("Time zone: %s\n", run.TimeZone)
	fmt.Printf("Outcome:   %s\n", run.Outcome)
	if run.Error != "" {
		fmt.Printf("Error:     %s\n", run.Error)
	}
	fmt.Printf("Started:   %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Printf("Duration:  %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	fmt.Println()

	printTaskTable(run)
	return nil
}
