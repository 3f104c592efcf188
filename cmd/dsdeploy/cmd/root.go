package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dsdeploy/pkg/config"
	"dsdeploy/pkg/logging"
)

var (
	cfgFile      string
	logLevel     string
	logFormat    string
	outputFormat string
)

// Version is stamped at build time via -ldflags
var Version = "dev"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dsdeploy",
	Short: "Deploy data science pipelines against managed database connections",
	Long: `dsdeploy runs ordered task sequences against named database
connections, records every run's outcome, and exposes run history
and connection health for operations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initEnv)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./dsdeploy.yaml, /local/config.yaml, /secrets/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initEnv binds the CONFIG and DSDEPLOY_* environment variables
func initEnv() {
	viper.SetEnvPrefix("DSDEPLOY")
	viper.AutomaticEnv()
	viper.BindEnv("config", "CONFIG")
	viper.BindEnv("log_level", "DSDEPLOY_LOG_LEVEL")
	viper.BindEnv("log_format", "DSDEPLOY_LOG_FORMAT")

	if logLevel == "" {
		logLevel = viper.GetString("log_level")
	}
	if logFormat == "" {
		logFormat = viper.GetString("log_format")
	}
}

// configPath resolves the config file: flag, then $CONFIG, then the
// conventional deployment locations
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	if p := viper.GetString("config"); p != "" {
		return p, nil
	}
	for _, candidate := range []string{"dsdeploy.yaml", "/local/config.yaml", "/secrets/config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config file found; pass --config or set CONFIG")
}

// loadConfig reads the resolved config file and applies flag overrides
func loadConfig() (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// newLogger builds the process logger from config
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	jsonFormat := cfg.Log.Format == "json"

	if cfg.Log.Dir != "" {
		return logging.NewFileLogger(cfg.Log.Dir, "dsdeploy", level, jsonFormat)
	}
	return logging.NewLogger(level, jsonFormat), nil
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
