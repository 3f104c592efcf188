package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"dsdeploy/pkg/broker"
)

var checkTimeout time.Duration

// connectionsCmd groups connection commands
var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Inspect configured database connections",
}

// connectionsCheckCmd resolves every configured connection once
var connectionsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Resolve every configured connection and report its state",
	Long: `Attempts to open each configured connection, applying the per-connection
retry policy. Exits non-zero if any connection ends up failed.`,
	RunE: runConnectionsCheck,
}

func init() {
	connectionsCheckCmd.Flags().DurationVar(&checkTimeout, "timeout", 60*time.Second, "overall deadline for the check")
	connectionsCmd.AddCommand(connectionsCheckCmd)
	rootCmd.AddCommand(connectionsCmd)
}

type connectionReport struct {
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Database string `json:"database"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
}

func runConnectionsCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	log, err := newLogger(cfg)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	defer log.Close()

	b, err := broker.New(cfg.Descriptors(), broker.WithLogger(log))
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	reports := make([]connectionReport, 0, len(b.Names()))
	failures := 0
	for _, name := range b.Names() {
		desc, _ := b.Descriptor(name)
		report := connectionReport{
			Name:     name,
			Driver:   string(desc.Driver),
			Database: desc.Database,
		}
		if err := b.Resolve(ctx, name); err != nil {
			report.Error = err.Error()
			failures++
		}
		report.State = string(b.State(name))
		reports = append(reports, report)
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
	} else {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Connection", "Driver", "Database", "State", "Error")
		for _, r := range reports {
			table.Append(r.Name, r.Driver, r.Database, r.State, r.Error)
		}
		table.Render()
	}

	if failures > 0 {
		return &ExitError{
			Code: ExitFailure,
			Err:  fmt.Errorf("%d of %d connections failed", failures, len(reports)),
		}
	}
	return nil
}
