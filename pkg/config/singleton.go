package config

import (
	"fmt"
	"sync"
)

var (
	// current is the process configuration; currentPath is where it was
	// loaded from.
	current     *Config
	currentPath string
	mu          sync.RWMutex

	initOnce sync.Once
)

// Initialize loads path with environment overrides into the process
// configuration. Only the first call loads; later calls return its error.
func Initialize(path string) error {
	var initErr error
	initOnce.Do(func() {
		initErr = store(path)
	})
	return initErr
}

// GetConfig returns the process configuration, or nil before Initialize.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Path returns the file the process configuration was loaded from.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return currentPath
}

// ReloadConfig loads path again and replaces the process configuration
// only when the new file is valid.
func ReloadConfig(path string) (*Config, error) {
	if err := store(path); err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	return GetConfig(), nil
}

func store(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return err
	}
	mu.Lock()
	current, currentPath = cfg, path
	mu.Unlock()
	return nil
}
