// Package config provides configuration loading and validation for the
// session engine CLI and server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Config represents the engine configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via
// CLI flags or the environment.
type Config struct {
	// Backends
	DatabaseURL string `json:"database_url,omitempty" validate:"omitempty,uri"` // PostgreSQL connection URL
	RedisAddr   string `json:"redis_addr,omitempty"`                            // Redis host:port for presence tracking

	// Model access
	APIKey string `json:"api_key,omitempty"` // Gemini API key
	Model  string `json:"model,omitempty"`   // Gemini model name

	// Server
	Port int `json:"port,omitempty" validate:"omitempty,min=1,max=65535"` // HTTP listen port

	// Sync behavior
	ConflictStrategy string `json:"conflict_strategy,omitempty" validate:"omitempty,oneof=local_wins remote_wins merge user_choice"`
	PresenceTTLSec   int    `json:"presence_ttl_sec,omitempty" validate:"omitempty,min=1"`

	// Processing queue
	Workers       int `json:"workers,omitempty" validate:"omitempty,min=1,max=64"`
	BackoffBaseMs int `json:"backoff_base_ms,omitempty" validate:"omitempty,min=1"`
	BackoffMaxMs  int `json:"backoff_max_ms,omitempty" validate:"omitempty,min=1"`

	// Misc
	SchemaPath string `json:"schema_path,omitempty"` // Path to the session document schema
	Verbose    bool   `json:"verbose,omitempty"`     // Print detailed debug information
}

// Defaults returns the baseline configuration applied underneath file and
// flag values.
func Defaults() Config {
	return Config{
		Port:             8080,
		ConflictStrategy: "merge",
		PresenceTTLSec:   30,
		Workers:          4,
		BackoffBaseMs:    1000,
		BackoffMaxMs:     60000,
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

// FromEnv reads configuration from environment variables. Used as a fallback
// layer beneath the config file.
func FromEnv() Config {
	return Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		APIKey:      os.Getenv("GEMINI_API_KEY"),
		Model:       os.Getenv("GEMINI_MODEL"),
	}
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("config error: field %q failed rule %q", first.Field(), first.Tag())
		}
		return fmt.Errorf("config validation error: %w", err)
	}

	if c.BackoffBaseMs > 0 && c.BackoffMaxMs > 0 && c.BackoffBaseMs > c.BackoffMaxMs {
		return fmt.Errorf("config error: 'backoff_base_ms' must not exceed 'backoff_max_ms'")
	}

	if c.SchemaPath != "" {
		if _, err := os.Stat(c.SchemaPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: schema file not found: %s", c.SchemaPath)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults. This is used to apply config file values as defaults for CLI
// flags, and Defaults() underneath both.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.RedisAddr == "" {
		result.RedisAddr = defaults.RedisAddr
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.Model == "" {
		result.Model = defaults.Model
	}
	if result.ConflictStrategy == "" {
		result.ConflictStrategy = defaults.ConflictStrategy
	}
	if result.SchemaPath == "" {
		result.SchemaPath = defaults.SchemaPath
	}

	// Int fields: use default if zero
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.PresenceTTLSec == 0 {
		result.PresenceTTLSec = defaults.PresenceTTLSec
	}
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}
	if result.BackoffBaseMs == 0 {
		result.BackoffBaseMs = defaults.BackoffBaseMs
	}
	if result.BackoffMaxMs == 0 {
		result.BackoffMaxMs = defaults.BackoffMaxMs
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
