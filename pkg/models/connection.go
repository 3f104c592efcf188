package models

import (
	"fmt"
	"time"
)

// DriverKind identifies the database driver used by a connection
type DriverKind string

const (
	DriverPostgres DriverKind = "postgres" // generic SQL via lib/pq
	DriverSQLite   DriverKind = "sqlite"   // embedded SQL via mattn/go-sqlite3
	DriverTDS      DriverKind = "tds"      // SQL Server over TDS via microsoft/go-mssqldb
)

// KnownDrivers lists the driver kinds accepted in configuration
var KnownDrivers = []DriverKind{DriverPostgres, DriverSQLite, DriverTDS}

// ConnState represents the lifecycle state of a managed connection
type ConnState string

const (
	ConnUnconnected ConnState = "unconnected" // Descriptor registered, no dial attempted
	ConnConnecting  ConnState = "connecting"  // Dial in progress
	ConnConnected   ConnState = "connected"   // Validated and usable
	ConnFailed      ConnState = "failed"      // Retry budget exhausted or fatal error
)

// RetryPolicy controls connect retries for one connection
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
	Multiplier     float64       `json:"multiplier"`
}

// DefaultRetryPolicy returns the connect retry defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// ConnectionDescriptor is the named configuration for one backing data store.
// Credentials are carried by reference (env:NAME, file:PATH or file:PATH#KEY),
// never as literals.
type ConnectionDescriptor struct {
	Name           string        `json:"name"`
	Driver         DriverKind    `json:"driver"`
	Host           string        `json:"host,omitempty"`
	Port           int           `json:"port,omitempty"`
	Database       string        `json:"database"`
	Username       string        `json:"username,omitempty"`
	CredentialRef  string        `json:"credential_ref,omitempty"`
	SSLMode        string        `json:"ssl_mode,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	Retry          RetryPolicy   `json:"retry"`
}

// Validate checks descriptor fields that do not require network I/O
func (d *ConnectionDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("connection descriptor has no name")
	}
	known := false
	for _, kind := range KnownDrivers {
		if d.Driver == kind {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("connection %q: unknown driver %q", d.Name, d.Driver)
	}
	if d.Database == "" {
		return fmt.Errorf("connection %q: database is required", d.Name)
	}
	if d.Driver != DriverSQLite && d.Host == "" {
		return fmt.Errorf("connection %q: host is required for driver %q", d.Name, d.Driver)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("connection %q: invalid port %d", d.Name, d.Port)
	}
	if d.Retry.MaxAttempts < 1 {
		return fmt.Errorf("connection %q: retry max_attempts must be at least 1", d.Name)
	}
	return nil
}
