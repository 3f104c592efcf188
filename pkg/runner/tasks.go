package runner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"dsdeploy/pkg/broker"
)

// identifierPattern is the shape of an acceptable SQL identifier; table
// names are interpolated into probe statements, so anything else is refused
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][A-Za-z0-9_.]*$`)

// NewCheckTablesTask returns a task probing that every listed table exists
// and is readable on the named connection. It is non-idempotent: a
// deployment that cannot see its tables must not proceed.
func NewCheckTablesTask(name, connection string, tables []string) Task {
	return Task{
		Name:        name,
		Connections: []string{connection},
		Idempotent:  false,
		Run: func(ctx context.Context, conns map[string]*broker.Handle) error {
			handle := conns[connection]
			var failed []string
			for _, table := range tables {
				if !identifierPattern.MatchString(table) {
					return fmt.Errorf("not a sql identifier: %s", table)
				}
				probe := fmt.Sprintf("select 1 where exists (select 1 from %s)", table)
				rows, err := handle.DB().QueryContext(ctx, probe)
				if err != nil {
					failed = append(failed, table)
					continue
				}
				rows.Close()
			}
			if len(failed) > 0 {
				return fmt.Errorf("tables failed check: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

// NewQueryTask returns a task executing the query stored under queryKey in
// the library against the named connection
func NewQueryTask(name, connection, queryKey string, lib *broker.QueryLibrary, idempotent bool) Task {
	return Task{
		Name:        name,
		Connections: []string{connection},
		Idempotent:  idempotent,
		Run: func(ctx context.Context, conns map[string]*broker.Handle) error {
			query, err := lib.Get(queryKey)
			if err != nil {
				return err
			}
			if _, err := conns[connection].DB().ExecContext(ctx, query); err != nil {
				return fmt.Errorf("query %s: %w", queryKey, err)
			}
			return nil
		},
	}
}

// NewSQLTask returns a task executing an inline SQL statement against the
// named connection
func NewSQLTask(name, connection, statement string, idempotent bool) Task {
	return Task{
		Name:        name,
		Connections: []string{connection},
		Idempotent:  idempotent,
		Run: func(ctx context.Context, conns map[string]*broker.Handle) error {
			if _, err := conns[connection].DB().ExecContext(ctx, statement); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
			return nil
		},
	}
}
