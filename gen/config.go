package gen

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config drives one generator run. It is usually read from a
// relormgen.yaml file next to the entity package.
type Config struct {
	// Package is the import path of the package holding the entity
	// structs.
	Package string `yaml:"package"`
	// Output is the directory the generated files are written to.
	// Defaults to the loaded package's directory.
	Output string `yaml:"output"`
	// Entities are the struct type names to generate constants for.
	Entities []string `yaml:"entities"`
}

// LoadConfig reads and validates a yaml config file.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gen: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("gen: parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Package == "" {
		return fmt.Errorf("gen: config is missing the package import path")
	}
	if len(c.Entities) == 0 {
		return fmt.Errorf("gen: config names no entities")
	}
	return nil
}
