package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is an optional YAML overlay for environment configuration. Keys are
// environment variable names; values are applied as process env defaults for
// variables that are not already set, so explicit env always wins.
//
// Example veriflow.yaml:
//
//	env:
//	  VERIFLOW_SERVER_PORT: "8080"
//	  VERIFLOW_MAX_WORKERS: "10"
type File struct {
	Env map[string]string `yaml:"env"`
}

// LoadFile reads a YAML config file and applies its env section as defaults.
// A missing path is not an error; a present but malformed file is.
func LoadFile(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for key, value := range file.Env {
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to apply config file key %s: %w", key, err)
			}
		}
	}

	return nil
}
