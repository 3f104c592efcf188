package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"dsdeploy/pkg/models"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryConfig mirrors models.RetryPolicy in configuration form
type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Multiplier     float64  `yaml:"multiplier"`
}

// ConnectionConfig describes one named connection. The credential field is
// a reference (env:NAME or file:PATH), never a literal secret.
type ConnectionConfig struct {
	Driver         string       `yaml:"driver"`
	Host           string       `yaml:"host,omitempty"`
	Port           int          `yaml:"port,omitempty"`
	Database       string       `yaml:"database"`
	Username       string       `yaml:"username,omitempty"`
	Credential     string       `yaml:"credential,omitempty"`
	SSLMode        string       `yaml:"ssl_mode,omitempty"`
	ConnectTimeout Duration     `yaml:"connect_timeout,omitempty"`
	Retry          *RetryConfig `yaml:"retry,omitempty"`
}

// TaskConfig describes one pipeline entry
type TaskConfig struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	Connection string   `yaml:"connection"`
	Idempotent bool     `yaml:"idempotent,omitempty"`
	Tables     []string `yaml:"tables,omitempty"` // kind: check_tables
	Query      string   `yaml:"query,omitempty"`  // kind: query (query library key)
	SQL        string   `yaml:"sql,omitempty"`    // kind: sql (inline statement)
}

// StoreConfig selects where run records are persisted
type StoreConfig struct {
	Type string `yaml:"type,omitempty"`
	Path string `yaml:"path,omitempty"`
	DSN  string `yaml:"dsn,omitempty"`
}

// LogConfig controls run logging
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "text" or "json"
	Dir    string `yaml:"dir,omitempty"`    // write a log file here when set
}

// MetricsConfig controls the observability listener
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Listen  string `yaml:"listen,omitempty"`
}

// Config is the full deployment configuration.
// Unknown fields fail decoding: the recognized surface is fixed.
type Config struct {
	TimeZone    string                      `yaml:"time_zone,omitempty"`
	QueryDir    string                      `yaml:"query_dir,omitempty"`
	Log         LogConfig                   `yaml:"log,omitempty"`
	Store       StoreConfig                 `yaml:"store,omitempty"`
	Metrics     MetricsConfig               `yaml:"metrics,omitempty"`
	Connections map[string]ConnectionConfig `yaml:"connections"`
	Pipeline    []TaskConfig                `yaml:"pipeline"`
}

// Load reads, env-expands, strictly decodes and validates a config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes config bytes. ${VAR} references are expanded from the
// environment first; an unset variable is an error, not an empty string.
func Parse(data []byte) (*Config, error) {
	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TimeZone == "" {
		c.TimeZone = "America/New_York"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.Type == "" {
		c.Store.Type = "sqlite"
	}
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "dsdeploy.db"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
}

// Validate checks cross-field consistency not expressible in types
func (c *Config) Validate() error {
	for name, conn := range c.Connections {
		if conn.Driver == "" {
			return fmt.Errorf("connection %q: driver is required", name)
		}
	}

	seen := make(map[string]bool, len(c.Pipeline))
	for i, task := range c.Pipeline {
		if task.Name == "" {
			return fmt.Errorf("pipeline[%d]: name is required", i)
		}
		if seen[task.Name] {
			return fmt.Errorf("pipeline[%d]: duplicate task name %q", i, task.Name)
		}
		seen[task.Name] = true

		if task.Connection == "" {
			return fmt.Errorf("task %q: connection is required", task.Name)
		}
		if _, ok := c.Connections[task.Connection]; !ok {
			return fmt.Errorf("task %q: unknown connection %q", task.Name, task.Connection)
		}

		switch task.Kind {
		case "check_tables":
			if len(task.Tables) == 0 {
				return fmt.Errorf("task %q: check_tables requires tables", task.Name)
			}
		case "query":
			if task.Query == "" {
				return fmt.Errorf("task %q: query key is required", task.Name)
			}
			if c.QueryDir == "" {
				return fmt.Errorf("task %q: query tasks require query_dir", task.Name)
			}
		case "sql":
			if task.SQL == "" {
				return fmt.Errorf("task %q: sql statement is required", task.Name)
			}
		default:
			return fmt.Errorf("task %q: unknown kind %q", task.Name, task.Kind)
		}
	}
	return nil
}

// Descriptors maps connection configs onto broker descriptors,
// in stable name order
func (c *Config) Descriptors() []models.ConnectionDescriptor {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	descs := make([]models.ConnectionDescriptor, 0, len(names))
	for _, name := range names {
		conn := c.Connections[name]
		desc := models.ConnectionDescriptor{
			Name:           name,
			Driver:         models.DriverKind(conn.Driver),
			Host:           conn.Host,
			Port:           conn.Port,
			Database:       conn.Database,
			Username:       conn.Username,
			CredentialRef:  conn.Credential,
			SSLMode:        conn.SSLMode,
			ConnectTimeout: conn.ConnectTimeout.Std(),
			Retry:          models.DefaultRetryPolicy(),
		}
		if conn.Retry != nil {
			desc.Retry = models.RetryPolicy{
				MaxAttempts:    conn.Retry.MaxAttempts,
				InitialBackoff: conn.Retry.InitialBackoff.Std(),
				MaxBackoff:     conn.Retry.MaxBackoff.Std(),
				Multiplier:     conn.Retry.Multiplier,
			}
		}
		descs = append(descs, desc)
	}
	return descs
}
