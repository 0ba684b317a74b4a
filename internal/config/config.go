package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the complete configuration for culprit
type Config struct {
	// Client invocation routed through the proxy
	Client     string   `toml:"client"`
	ClientArgs []string `toml:"client_args"`

	// Interception settings
	Endpoint string `toml:"endpoint"`
	Listen   string `toml:"listen"`
	TrustDir string `toml:"trust_dir"`

	// Run settings
	Result         string `toml:"result"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	LogLevel       string `toml:"log_level"`

	Plain bool `toml:"-"` // CLI flag, not from config file
}

// Default returns the configuration used when no culprit.toml exists.
func Default() *Config {
	trustDir := ".culprit"
	if home, err := os.UserHomeDir(); err == nil {
		trustDir = filepath.Join(home, ".culprit")
	}
	return &Config{
		Client:         "claude",
		ClientArgs:     []string{"-p", "hi", "--max-turns", "1"},
		Endpoint:       "/v1/messages",
		Listen:         "127.0.0.1:8899",
		TrustDir:       trustDir,
		Result:         "culprit-result.json",
		TimeoutSeconds: 120,
		PollIntervalMS: 500,
		LogLevel:       "info",
	}
}

// Load loads configuration from culprit.toml, searching upward from
// startPath. A missing config file is not an error; defaults apply.
func Load(startPath string) (*Config, error) {
	configPath, err := findConfigFile(startPath)
	if err != nil {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from an explicit config file path.
func LoadFile(configPath string) (*Config, error) {
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(configData), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Client = expandEnvVars(cfg.Client)
	for i, arg := range cfg.ClientArgs {
		cfg.ClientArgs[i] = expandEnvVars(arg)
	}
	cfg.TrustDir = normalizePath(expandEnvVars(cfg.TrustDir), filepath.Dir(configPath))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Timeout returns the bounded wait for a diagnosis.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the diagnosis channel polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// findConfigFile searches for culprit.toml starting from the given path
func findConfigFile(startPath string) (string, error) {
	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err == nil && !info.IsDir() {
		absPath = filepath.Dir(absPath)
	}

	currentDir := absPath
	for {
		configPath := filepath.Join(currentDir, "culprit.toml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	return "", fmt.Errorf("culprit.toml not found")
}

// expandEnvVars expands ${VAR_NAME} environment variables in the string
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]

		value := os.Getenv(varName)
		if value == "" {
			return match
		}
		return value
	})
}

// validate checks that the loaded configuration is usable
func (c *Config) validate() error {
	var errors []string

	if c.Client == "" {
		errors = append(errors, "client is required")
	}
	if c.Endpoint == "" {
		errors = append(errors, "endpoint is required")
	}
	if !strings.Contains(c.Listen, ":") {
		errors = append(errors, "listen must be a host:port address")
	}
	if c.TimeoutSeconds <= 0 {
		errors = append(errors, "timeout_seconds must be positive")
	}
	if c.PollIntervalMS <= 0 {
		errors = append(errors, "poll_interval_ms must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errors, ", "))
	}
	return nil
}

// normalizePath converts relative paths to absolute paths based on config file location
func normalizePath(path, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}
