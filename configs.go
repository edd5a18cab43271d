// configs.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go-backup-engine/core"
)

// ConfigStore holds the configurations the shell persisted to configs.json.
// The engine only ever reads this file; writes belong to the shell. Locks
// are never held across I/O into the orchestrators: configs are cloned out.
type ConfigStore struct {
	mu      sync.Mutex
	path    string
	configs []core.BackupConfig
}

func NewConfigStore(dataDir string) *ConfigStore {
	return &ConfigStore{path: filepath.Join(dataDir, "configs.json")}
}

// Load re-reads configs.json. A missing file leaves an empty store; the
// shell simply has not created any configuration yet.
func (s *ConfigStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.configs = nil
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read configs: %w", err)
	}

	var configs []core.BackupConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("failed to parse configs: %w", err)
	}

	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
	return nil
}

// Get returns the configuration with the given id by value.
func (s *ConfigStore) Get(configID string) (core.BackupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.configs {
		if cfg.ID == configID {
			return cfg, nil
		}
	}
	return core.BackupConfig{}, fmt.Errorf("%w: %s", core.ErrConfigNotFound, configID)
}

// All returns a copy of every configuration.
func (s *ConfigStore) All() []core.BackupConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.BackupConfig, len(s.configs))
	copy(out, s.configs)
	return out
}
