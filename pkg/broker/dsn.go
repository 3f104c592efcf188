package broker

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"dsdeploy/pkg/models"
)

// openPostgres dials a postgres connection and forces an eager round trip
// so a lazily-failing DSN surfaces here, not on first use.
func openPostgres(ctx context.Context, desc *models.ConnectionDescriptor, password string) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(desc, password))
	if err != nil {
		return nil, err
	}
	if err := ping(ctx, db, desc); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openSQLite opens a sqlite database file. WAL and a busy timeout keep a
// second reader (the runs CLI) from tripping over the writer.
func openSQLite(ctx context.Context, desc *models.ConnectionDescriptor, _ string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000", desc.Database)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := ping(ctx, db, desc); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openTDS dials a SQL Server connection over TDS
func openTDS(ctx context.Context, desc *models.ConnectionDescriptor, password string) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", tdsDSN(desc, password))
	if err != nil {
		return nil, err
	}
	if err := ping(ctx, db, desc); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB, desc *models.ConnectionDescriptor) error {
	if desc.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, desc.ConnectTimeout)
		defer cancel()
	}
	return db.PingContext(ctx)
}

// postgresDSN renders a key/value DSN for lib/pq
func postgresDSN(desc *models.ConnectionDescriptor, password string) string {
	pairs := []struct {
		key   string
		value string
	}{
		{"host", desc.Host},
		{"port", portString(desc.Port)},
		{"dbname", desc.Database},
		{"user", desc.Username},
		{"password", password},
		{"sslmode", desc.SSLMode},
		{"connect_timeout", timeoutSeconds(desc)},
	}

	var parts []string
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", p.key, quoteDSNValue(p.value)))
	}
	return strings.Join(parts, " ")
}

// tdsDSN renders a URL-form DSN for go-mssqldb. User and password are
// url-encoded by the URL builder, so credentials with reserved characters
// survive intact.
func tdsDSN(desc *models.ConnectionDescriptor, password string) string {
	query := url.Values{}
	query.Set("database", desc.Database)
	if desc.ConnectTimeout > 0 {
		query.Set("dial timeout", timeoutSeconds(desc))
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     desc.Host,
		RawQuery: query.Encode(),
	}
	if desc.Port != 0 {
		u.Host = fmt.Sprintf("%s:%d", desc.Host, desc.Port)
	}
	if desc.Username != "" {
		u.User = url.User(desc.Username)
		if password != "" {
			u.User = url.UserPassword(desc.Username, password)
		}
	}
	return u.String()
}

func portString(port int) string {
	if port == 0 {
		return ""
	}
	return fmt.Sprintf("%d", port)
}

func timeoutSeconds(desc *models.ConnectionDescriptor) string {
	if desc.ConnectTimeout <= 0 {
		return ""
	}
	secs := int(desc.ConnectTimeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}

// quoteDSNValue quotes values containing spaces or quotes per the
// lib/pq key/value connection string rules
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
