package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissing marks required configuration that is absent at startup.
var ErrMissing = errors.New("required configuration missing")

func validateConfig(config *Config) error {
	if config.App.LLMAPIKey == "" {
		return fmt.Errorf("%w: LLM_API_KEY", ErrMissing)
	}

	if config.App.DatabasePath == "" {
		return fmt.Errorf("%w: database path", ErrMissing)
	}

	if !config.Twitter.Complete() && !config.Twitter.Empty() {
		return fmt.Errorf("twitter credentials must be set completely or not at all")
	}

	if len(config.URLs.CollectionURLs) == 0 {
		return fmt.Errorf("%w: at least one collection URL", ErrMissing)
	}

	for i, source := range config.URLs.CollectionURLs {
		if strings.TrimSpace(source.URL) == "" {
			return fmt.Errorf("collection URL at index %d cannot be empty", i)
		}
		if strings.TrimSpace(source.Category) == "" {
			return fmt.Errorf("collection URL at index %d has no category", i)
		}
	}

	settings := config.URLs.CollectionSettings
	if settings.RequestDelaySeconds < 0 {
		return fmt.Errorf("request delay must be non-negative: %f", settings.RequestDelaySeconds)
	}
	if settings.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative: %d", settings.MaxRetries)
	}
	if settings.MaxPagesPerCategory <= 0 {
		return fmt.Errorf("max pages per category must be positive: %d", settings.MaxPagesPerCategory)
	}
	if settings.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout seconds must be positive: %d", settings.TimeoutSeconds)
	}

	prompts := config.Prompts
	if prompts.EvaluationPrompt.UserPromptTemplate == "" {
		return fmt.Errorf("%w: evaluation prompt template", ErrMissing)
	}
	if prompts.ModelSettings.Model == "" {
		return fmt.Errorf("%w: model name", ErrMissing)
	}
	if prompts.ModelSettings.Temperature < 0 || prompts.ModelSettings.Temperature > 2 {
		return fmt.Errorf("temperature out of range: %f", prompts.ModelSettings.Temperature)
	}
	if prompts.ModelSettings.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive: %d", prompts.ModelSettings.MaxTokens)
	}
	if prompts.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("llm requests per minute must be positive: %d", prompts.RateLimit.RequestsPerMinute)
	}
	if prompts.RateLimit.MaxRetries <= 0 {
		return fmt.Errorf("llm max retries must be positive: %d", prompts.RateLimit.MaxRetries)
	}
	if prompts.RateLimit.RetryDelaySeconds < 0 {
		return fmt.Errorf("llm retry delay must be non-negative: %f", prompts.RateLimit.RetryDelaySeconds)
	}

	for i, post := range config.Schedule.DailyPosts {
		if _, err := time.Parse("15:04", post.Time); err != nil {
			return fmt.Errorf("daily post at index %d has invalid time %q", i, post.Time)
		}
	}

	return nil
}
