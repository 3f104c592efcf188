package broker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// QueryLibrary holds named SQL fragments loaded from a directory tree.
// A file queries/runs/open.sql is addressed as "runs.open", so pipeline
// tasks reference queries by key instead of carrying inline SQL.
type QueryLibrary struct {
	queries map[string]string
}

// LoadQueries reads every .sql file under root into a library. Nested
// directories become dotted key prefixes; dot-files are skipped.
func LoadQueries(root string) (*QueryLibrary, error) {
	lib := &QueryLibrary{queries: make(map[string]string)}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		base := d.Name()
		if strings.HasPrefix(base, ".") {
			if d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(base) != ".sql" {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(rel, ".sql")
		key = strings.ReplaceAll(key, string(filepath.Separator), ".")

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		lib.queries[key] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load query directory %s: %w", root, err)
	}

	return lib, nil
}

// Get returns the query stored under key
func (q *QueryLibrary) Get(key string) (string, error) {
	query, ok := q.queries[key]
	if !ok {
		return "", fmt.Errorf("no query named %q", key)
	}
	return query, nil
}

// Keys returns all query keys, sorted
func (q *QueryLibrary) Keys() []string {
	keys := make([]string, 0, len(q.queries))
	for k := range q.queries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of loaded queries
func (q *QueryLibrary) Len() int {
	return len(q.queries)
}
