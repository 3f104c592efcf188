package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR} references with environment values.
// Every referenced variable must be set; silently substituting an
// empty string would hide misconfigured deployments.
func ExpandEnv(raw string) (string, error) {
	var missing []string
	expanded := envRefPattern.ReplaceAllStringFunc(raw, func(match string) string {
		name := envRefPattern.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unset environment variable(s) in config: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}
