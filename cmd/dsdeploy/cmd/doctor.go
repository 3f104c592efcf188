package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
)

// doctorCmd reports on the host the deployment would run on
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report host resources and config readiness",
	Long: `Collects CPU, memory and OS information for the current host and
verifies that a config file can be found and parsed. Useful before
scheduling a pipeline on a new machine.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorReport struct {
	Hostname    string  `json:"hostname"`
	OS          string  `json:"os"`
	Platform    string  `json:"platform"`
	CPUModel    string  `json:"cpu_model"`
	CPUCores    int     `json:"cpu_cores"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryTotal uint64  `json:"memory_total_bytes"`
	MemoryFree  uint64  `json:"memory_available_bytes"`
	GoVersion   string  `json:"go_version"`
	ConfigPath  string  `json:"config_path,omitempty"`
	ConfigError string  `json:"config_error,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	report := doctorReport{
		OS:        runtime.GOOS,
		CPUCores:  runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}

	if info, err := host.Info(); err == nil {
		report.Hostname = info.Hostname
		report.Platform = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	}
	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		report.CPUModel = cpus[0].ModelName
	}
	if percent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(percent) > 0 {
		report.CPUPercent = percent[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		report.MemoryTotal = vmem.Total
		report.MemoryFree = vmem.Available
	}

	if path, err := configPath(); err != nil {
		report.ConfigError = err.Error()
	} else {
		report.ConfigPath = path
		if _, err := loadConfig(); err != nil {
			report.ConfigError = err.Error()
		}
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Host:      %s (%s)\n", report.Hostname, report.Platform)
	fmt.Printf("CPU:       %s, %d cores, %.1f%% busy\n", report.CPUModel, report.CPUCores, report.CPUPercent)
	fmt.Printf("Memory:    %s available of %s\n", formatBytes(report.MemoryFree), formatBytes(report.MemoryTotal))
	fmt.Printf("Go:        %s\n", report.GoVersion)
	if report.ConfigError != "" {
		fmt.Printf("Config:    NOT READY: %s\n", report.ConfigError)
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("config not ready: %s", report.ConfigError)}
	}
	fmt.Printf("Config:    %s (ok)\n", report.ConfigPath)
	return nil
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
