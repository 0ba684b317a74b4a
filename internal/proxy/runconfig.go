package proxy

import (
	"encoding/json"
	"fmt"
	"os"
)

// RunConfig is the per-run configuration the orchestrator materializes
// for the interception process. It is a working file: written before the
// proxy is spawned, deleted on cleanup.
type RunConfig struct {
	Listen   string `json:"listen"`
	Endpoint string `json:"endpoint"`
	TrustDir string `json:"trust_dir"`
	LogLevel string `json:"log_level"`
}

// Save writes the run configuration to path.
func (c RunConfig) Save(path string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode run config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write run config: %w", err)
	}
	return nil
}

// LoadRunConfig reads the run configuration from path.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse run config: %w", err)
	}
	return &cfg, nil
}
