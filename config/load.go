// ABOUTME: This file builds the run configuration from the environment and JSON files
// ABOUTME: Environment values override defaults, then the config directory is read
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load builds the configuration from defaults, environment overrides and the
// JSON files under the config directory, then validates the result.
func Load() (*Config, error) {
	config := defaultConfig()

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := loadConfigFiles(config); err != nil {
		return nil, fmt.Errorf("failed to load config files: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func loadFromEnv(config *Config) error {
	loadAppConfig(&config.App)
	loadTwitterCredentials(&config.Twitter)
	return nil
}

func loadAppConfig(cfg *AppConfig) {
	cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")

	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.DatabasePath = path
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	cfg.LogFilePath = os.Getenv("LOG_FILE_PATH")

	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		cfg.ConfigDir = dir
	}

	if dir := os.Getenv("OUTPUT_DIR"); dir != "" {
		cfg.OutputDir = dir
	}
}

func loadTwitterCredentials(cfg *TwitterCredentials) {
	cfg.APIKey = os.Getenv("TWITTER_API_KEY")
	cfg.APISecret = os.Getenv("TWITTER_API_SECRET")
	cfg.AccessToken = os.Getenv("TWITTER_ACCESS_TOKEN")
	cfg.AccessTokenSecret = os.Getenv("TWITTER_ACCESS_TOKEN_SECRET")
	cfg.BearerToken = os.Getenv("TWITTER_BEARER_TOKEN")
}

func loadConfigFiles(config *Config) error {
	if err := loadJSONFile(config.App.ConfigDir, "urls_config.json", &config.URLs, true); err != nil {
		return err
	}

	if err := loadJSONFile(config.App.ConfigDir, "prompt_settings.json", &config.Prompts, true); err != nil {
		return err
	}

	// The schedule is consumed by the external poster; a missing file is fine
	// but a malformed one must fail the run.
	if err := loadJSONFile(config.App.ConfigDir, "posting_schedule.json", &config.Schedule, false); err != nil {
		return err
	}

	return nil
}

// loadJSONFile decodes one config file into target. Decoding into a
// pre-populated struct keeps defaults for absent fields.
func loadJSONFile(dir, name string, target any, required bool) error {
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}

	return nil
}
