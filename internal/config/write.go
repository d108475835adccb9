package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Write serialises the configuration to the given path, creating parent
// directories as needed. Used by `lifearch config init` to seed a config
// file from the defaults.
func (c *Config) Write(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory; %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config; %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config; %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config; %w", err)
	}

	return nil
}

// Default returns a Config populated with all default values.
func Default() *Config {
	v := newDefaultViper()
	cfg, err := unmarshalConfig(v)
	if err != nil {
		// Defaults are static and always valid.
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}
