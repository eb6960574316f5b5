package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func GetEnvironmentVariables() map[string]string {
	environmentVariables := map[string]string{}

	for _, variable := range os.Environ() {
		pair := strings.SplitN(variable, "=", 2)
		if len(pair) != 2 {
			continue
		}

		environmentVariables[pair[0]] = pair[1]
	}

	return environmentVariables
}

// EnvInt returns the integer value of key or fallback when unset or malformed.
func EnvInt(env map[string]string, key string, fallback int) int {
	if n, err := strconv.Atoi(env[key]); err == nil {
		return n
	}
	return fallback
}

func EnvFloat(env map[string]string, key string, fallback float64) float64 {
	if n, err := strconv.ParseFloat(env[key], 64); err == nil {
		return n
	}
	return fallback
}

func EnvDuration(env map[string]string, key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(env[key]); err == nil {
		return d
	}
	return fallback
}
