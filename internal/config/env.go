package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the value of the environment variable k or d when unset.
func GetEnv(k, d string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return d
}

func envDuration(k string, d time.Duration) time.Duration {
	if v, err := time.ParseDuration(GetEnv(k, "")); err == nil {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	if v, err := strconv.ParseBool(GetEnv(k, "")); err == nil {
		return v
	}
	return d
}

func envList(k string) []string {
	var out []string
	for _, p := range strings.Split(GetEnv(k, ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
