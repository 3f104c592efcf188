package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"dsdeploy/pkg/broker"
	"dsdeploy/pkg/config"
	"dsdeploy/pkg/metrics"
	"dsdeploy/pkg/models"
	"dsdeploy/pkg/runner"
	"dsdeploy/pkg/shutdown"
	"dsdeploy/pkg/store"
)

var (
	asOfFlag     string
	timeZoneFlag string
)

// runCmd executes the configured pipeline once
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the configured task pipeline",
	Long: `Resolve all configured connections, execute the pipeline tasks in
declared order, and persist the run record. The exit code reflects the
run outcome: 0 success, 1 failure, 2 partial failure, 3 bad configuration.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&asOfFlag, "as-of", "", "pin the run's as-of timestamp (RFC 3339)")
	runCmd.Flags().StringVar(&timeZoneFlag, "time-zone", "", "reporting time zone (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	log, err := newLogger(cfg)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	defer log.Close()

	opts, err := runOptions(cfg)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	tasks, err := buildTasks(cfg)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	b, err := broker.New(cfg.Descriptors(), broker.WithLogger(log))
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	st, err := store.NewStore(store.Config{
		Type: cfg.Store.Type,
		DSN:  cfg.Store.DSN,
		Path: cfg.Store.Path,
	})
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	mgr := shutdown.New(log, 30*time.Second)
	mgr.Register(shutdown.CloseResource(st, "run store"))
	mgr.Register(shutdown.CloseResource(b, "connection broker"))
	defer mgr.Shutdown()

	ctx := mgr.CancelOnSignal(context.Background())

	collector := metrics.NewCollector()
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, collector, log)
		mgr.Register(srv.Shutdown)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("metrics listener failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	}

	// Connection failures are not fatal here: tasks that depend on a
	// failed connection fail individually, the rest still run.
	if err := b.ResolveAll(ctx); err != nil {
		log.Warn("some connections failed to resolve", map[string]interface{}{
			"error": err.Error(),
		})
	}

	opts = append(opts,
		runner.WithStore(st),
		runner.WithLogger(log),
		runner.WithObserver(collector),
		runner.WithVersion(Version),
	)

	record, err := runner.New(b, opts...).Run(ctx, tasks)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	printRunSummary(record)

	if code := OutcomeExitCode(record.Outcome); code != ExitSuccess {
		return &ExitError{Code: code, Err: fmt.Errorf("run %s finished with outcome %s", record.ID, record.Outcome)}
	}
	return nil
}

// runOptions converts the run flags and config metadata to runner options
func runOptions(cfg *config.Config) ([]runner.Option, error) {
	var opts []runner.Option

	if asOfFlag != "" {
		asOf, err := time.Parse(time.RFC3339, asOfFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid --as-of %q: %w", asOfFlag, err)
		}
		opts = append(opts, runner.WithAsOf(asOf))
	}

	tz := cfg.TimeZone
	if timeZoneFlag != "" {
		tz = timeZoneFlag
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", tz, err)
		}
		opts = append(opts, runner.WithTimeZone(tz))
	}
	return opts, nil
}

// buildTasks loads the query library when needed and maps the pipeline
func buildTasks(cfg *config.Config) ([]runner.Task, error) {
	var lib *broker.QueryLibrary
	if cfg.QueryDir != "" {
		var err error
		lib, err = broker.LoadQueries(cfg.QueryDir)
		if err != nil {
			return nil, err
		}
	}
	return cfg.BuildPipeline(lib)
}

func printRunSummary(record *models.RunRecord) {
	fmt.Printf("Run %s finished: %s (%s)\n\n",
		record.ID, record.Outcome, record.CompletedAt.Sub(record.StartedAt).Round(time.Millisecond))
	printTaskTable(record)

	if record.Error != "" {
		fmt.Printf("\nError: %s\n", record.Error)
	}
}

func printTaskTable(record *models.RunRecord) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Task", "State", "Duration", "Error")

	for _, t := range record.Tasks {
		duration := "-"
		if t.StartedAt != nil && t.CompletedAt != nil {
			duration = t.CompletedAt.Sub(*t.StartedAt).Round(time.Millisecond).String()
		}
		table.Append(
			fmt.Sprintf("%d", t.Position+1),
			t.Name,
			string(t.State),
			duration,
			t.Error,
		)
	}
	table.Render()
}
