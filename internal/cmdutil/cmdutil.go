// Package cmdutil shares initialized state between the root command and
// its subcommands.
package cmdutil

import (
	"sync"

	"lifearch/internal/config"
	"lifearch/internal/logging"
)

var (
	mu         sync.RWMutex
	cfg        *config.Config
	logManager *logging.Manager
)

// SetConfig stores the loaded configuration for subcommands.
func SetConfig(c *config.Config) {
	mu.Lock()
	defer mu.Unlock()
	cfg = c
}

// Cfg returns the loaded configuration, falling back to defaults when
// initialization has not run.
func Cfg() *config.Config {
	mu.RLock()
	defer mu.RUnlock()
	if cfg == nil {
		return config.Default()
	}
	return cfg
}

// SetLogManager stores the logging manager for subcommands.
func SetLogManager(m *logging.Manager) {
	mu.Lock()
	defer mu.Unlock()
	logManager = m
}

// LogManager returns the logging manager, or a fresh bootstrap manager
// when initialization has not run.
func LogManager() *logging.Manager {
	mu.RLock()
	defer mu.RUnlock()
	if logManager == nil {
		return logging.NewManager()
	}
	return logManager
}
