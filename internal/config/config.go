// Package config provides configuration loading and validation for the CLI
// and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config represents the service configuration that can be loaded from a
// JSON file. All fields are optional; missing values use defaults or
// environment variables.
type Config struct {
	// Server
	Port             int `json:"port,omitempty"`              // HTTP listen port
	HeartbeatSeconds int `json:"heartbeat_seconds,omitempty"` // SSE heartbeat interval

	// Storage
	DataDir     string `json:"data_dir,omitempty"`     // Directory for the JSON file store
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL; overrides the file store

	// Chat backend
	BackendURL    string `json:"backend_url,omitempty"`     // Chat backend base URL
	BackendAPIKey string `json:"backend_api_key,omitempty"` // Bearer token for the chat backend
	Model         string `json:"model,omitempty"`           // Model for the seeded default agent

	// Web search
	SearchAPIKey string `json:"search_api_key,omitempty"` // Google Custom Search API key
	SearchCX     string `json:"search_cx,omitempty"`      // Custom Search engine id

	// Behavior
	Verbose bool `json:"verbose,omitempty"` // Print detailed debug information
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:             8080,
		HeartbeatSeconds: 15,
		DataDir:          "data",
		BackendURL:       "http://localhost:8081",
		Model:            "default",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv fills empty fields from environment variables. Explicit config
// file values win over the environment.
func (c *Config) FromEnv() {
	if c.Port == 0 {
		if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port > 0 {
			c.Port = port
		}
	}
	if c.HeartbeatSeconds == 0 {
		if secs, err := strconv.Atoi(os.Getenv("SSE_HEARTBEAT_SECONDS")); err == nil && secs > 0 {
			c.HeartbeatSeconds = secs
		}
	}
	if c.DataDir == "" {
		c.DataDir = os.Getenv("DATA_DIR")
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.BackendURL == "" {
		c.BackendURL = os.Getenv("CHAT_BACKEND_URL")
	}
	if c.BackendAPIKey == "" {
		c.BackendAPIKey = os.Getenv("CHAT_BACKEND_API_KEY")
	}
	if c.Model == "" {
		c.Model = os.Getenv("CHAT_MODEL")
	}
	if c.SearchAPIKey == "" {
		c.SearchAPIKey = os.Getenv("SEARCH_API_KEY")
	}
	if c.SearchCX == "" {
		c.SearchCX = os.Getenv("SEARCH_CX")
	}
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.HeartbeatSeconds < 0 {
		return fmt.Errorf("config error: 'heartbeat_seconds' must be non-negative")
	}
	if c.SearchAPIKey != "" && c.SearchCX == "" {
		return fmt.Errorf("config error: 'search_cx' is required when 'search_api_key' is set")
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.HeartbeatSeconds == 0 {
		result.HeartbeatSeconds = defaults.HeartbeatSeconds
	}
	if result.DataDir == "" {
		result.DataDir = defaults.DataDir
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.BackendURL == "" {
		result.BackendURL = defaults.BackendURL
	}
	if result.BackendAPIKey == "" {
		result.BackendAPIKey = defaults.BackendAPIKey
	}
	if result.Model == "" {
		result.Model = defaults.Model
	}
	if result.SearchAPIKey == "" {
		result.SearchAPIKey = defaults.SearchAPIKey
	}
	if result.SearchCX == "" {
		result.SearchCX = defaults.SearchCX
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
