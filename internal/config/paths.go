package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default config file path for the given component
// name (e.g. "bridge.yaml", "server.yaml").
func DefaultConfigPath(name string) string {
	home, _ := os.UserHomeDir()
	programData := os.Getenv("ProgramData")
	return ResolveConfigPath(runtime.GOOS, home, programData, name)
}

// ResolveConfigPath constructs a config file path for the given OS and base
// directories. It is mainly used in tests.
func ResolveConfigPath(goos, home, programData, name string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "wormhole", name)
	case "windows":
		if programData == "" {
			programData = "C:/ProgramData"
		}
		programData = strings.TrimRight(programData, "\\/")
		return filepath.Join(programData, "wormhole", name)
	default:
		return filepath.Join("/etc", "wormhole", name)
	}
}

// loadYAML populates v from the YAML file at path. Fields absent from the file
// keep their current values. A missing file is reported as os.ErrNotExist so
// callers can treat it as optional.
func loadYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	return yaml.Unmarshal(b, v)
}

// IsMissing reports whether err means the config file does not exist.
func IsMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
