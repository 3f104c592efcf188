package config

import (
	"fmt"

	"dsdeploy/pkg/broker"
	"dsdeploy/pkg/runner"
)

// BuildPipeline converts configured tasks into runnable ones. The query
// library may be nil when no task has kind "query".
func (c *Config) BuildPipeline(lib *broker.QueryLibrary) ([]runner.Task, error) {
	tasks := make([]runner.Task, 0, len(c.Pipeline))
	for _, tc := range c.Pipeline {
		switch tc.Kind {
		case "check_tables":
			tasks = append(tasks, runner.NewCheckTablesTask(tc.Name, tc.Connection, tc.Tables))
		case "query":
			if lib == nil {
				return nil, fmt.Errorf("task %q: no query library loaded", tc.Name)
			}
			tasks = append(tasks, runner.NewQueryTask(tc.Name, tc.Connection, tc.Query, lib, tc.Idempotent))
		case "sql":
			tasks = append(tasks, runner.NewSQLTask(tc.Name, tc.Connection, tc.SQL, tc.Idempotent))
		default:
			return nil, fmt.Errorf("task %q: unknown kind %q", tc.Name, tc.Kind)
		}
	}
	return tasks, nil
}
