package cli

import (
	"path/filepath"
)

// Config holds the global command-line options
type Config struct {
	ConfigFile  string
	ProjectRoot string
	// EnvFile is loaded before the project's .env; neither overrides
	// variables already set
	EnvFile    string
	Verbosity  string
	Production bool
	Strict     bool
	Version    string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		Verbosity:   "info",
		Version:     "dev",
	}
}

// resolve returns p relative to root unless it is absolute
func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
