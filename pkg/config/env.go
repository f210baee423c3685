package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// ProductionEnv is the NODE_ENV value that switches on minification
const ProductionEnv = "production"

// LoadEnv loads KEY=value files into the process environment in order.
// Values from the files replace variables already set, and a later file
// wins over an earlier one. Missing files are skipped. It returns the files
// that were actually loaded.
func LoadEnv(files ...string) ([]string, error) {
	var loaded []string
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("failed to stat env file %s: %w", f, err)
		}
		if err := godotenv.Overload(f); err != nil {
			return loaded, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
		loaded = append(loaded, f)
	}
	return loaded, nil
}

// IsProduction reports whether NODE_ENV selects a production build
func IsProduction() bool {
	return os.Getenv("NODE_ENV") == ProductionEnv
}

// ForceProduction sets NODE_ENV=production for the rest of the process
func ForceProduction() error {
	return os.Setenv("NODE_ENV", ProductionEnv)
}
