package broker

import (
	"fmt"
	"os"
	"strings"
)

// ResolveCredential resolves a credential reference to its secret value.
// Accepted forms:
//
//	""                  no credential
//	env:NAME            value of environment variable NAME
//	file:/path          trimmed contents of the file at /path
//	file:/path#KEY      value of KEY in an env-style KEY=VALUE file
//
// Anything else is rejected: descriptors must never carry plaintext secrets.
func ResolveCredential(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}

	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		if name == "" {
			return "", fmt.Errorf("empty environment variable name in credential reference")
		}
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			return "", fmt.Errorf("no value for environment variable %s", name)
		}
		return value, nil

	case strings.HasPrefix(ref, "file:"):
		target := strings.TrimPrefix(ref, "file:")
		path, key, hasKey := strings.Cut(target, "#")
		if path == "" {
			return "", fmt.Errorf("empty path in credential reference")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read credential file: %w", err)
		}
		if !hasKey {
			return strings.TrimSpace(string(data)), nil
		}
		values := parseEnvFile(string(data))
		value, ok := values[key]
		if !ok {
			return "", fmt.Errorf("no value for key %s in %s", key, path)
		}
		return value, nil

	default:
		return "", fmt.Errorf("credential must be referenced via env: or file:, plaintext secrets are not accepted")
	}
}

// parseEnvFile parses KEY=VALUE lines, skipping blanks and # comments
func parseEnvFile(contents string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return result
}
