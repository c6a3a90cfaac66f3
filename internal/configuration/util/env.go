package util

import (
	"fmt"
	"os"
	"regexp"
)

// ${NAME} must be set. ${NAME:fallback} falls back when NAME is unset.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

func ExpandEnvStrict(s string) (string, error) {
	var missing string

	out := envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := envVarPattern.FindStringSubmatch(m)
		name, fallback := parts[1], parts[2]
		hasFallback := len(m) > len(name)+3

		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasFallback {
			return fallback
		}
		if missing == "" {
			missing = name
		}
		return m
	})

	if missing != "" {
		return "", fmt.Errorf("environment variable %s is not set", missing)
	}
	return out, nil
}
