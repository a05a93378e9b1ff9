// ABOUTME: This file defines the configuration types for the curation pipeline
// ABOUTME: Environment settings plus the JSON files under the config directory
package config

// Config is the fully loaded and validated run configuration.
type Config struct {
	App     AppConfig
	Twitter TwitterCredentials

	URLs     URLsConfig
	Prompts  PromptSettings
	Schedule PostingSchedule
}

// AppConfig holds the environment-driven settings.
type AppConfig struct {
	DatabasePath string
	LLMAPIKey    string
	LogLevel     string
	LogFilePath  string
	ConfigDir    string
	OutputDir    string
}

// TwitterCredentials is the optional social posting credential set. Either
// all five values are present or the set is empty.
type TwitterCredentials struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
	BearerToken       string
}

// Complete reports whether every credential is present.
func (t TwitterCredentials) Complete() bool {
	return t.APIKey != "" && t.APISecret != "" && t.AccessToken != "" &&
		t.AccessTokenSecret != "" && t.BearerToken != ""
}

// Empty reports whether no credential is present.
func (t TwitterCredentials) Empty() bool {
	return t.APIKey == "" && t.APISecret == "" && t.AccessToken == "" &&
		t.AccessTokenSecret == "" && t.BearerToken == ""
}

// URLsConfig mirrors urls_config.json.
type URLsConfig struct {
	CollectionURLs     []CollectionURL    `json:"collection_urls"`
	CollectionSettings CollectionSettings `json:"collection_settings"`
}

// CollectionURL names one list source to collect from.
type CollectionURL struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

// CollectionSettings tunes the collection pass.
type CollectionSettings struct {
	RequestDelaySeconds     float64 `json:"request_delay_seconds"`
	OldArticleThresholdDays int     `json:"old_article_threshold_days"`
	MaxRetries              int     `json:"max_retries"`
	MaxPagesPerCategory     int     `json:"max_pages_per_category"`
	TimeoutSeconds          int     `json:"timeout_seconds"`
	StopAfterOldArticles    bool    `json:"stop_after_old_articles"`
	FetchArticleDetails     bool    `json:"fetch_article_details"`
}

// PromptSettings mirrors prompt_settings.json.
type PromptSettings struct {
	EvaluationPrompt      PromptTemplate `json:"evaluation_prompt"`
	RetryEvaluationPrompt PromptTemplate `json:"retry_evaluation_prompt"`
	ModelSettings         ModelSettings  `json:"groq_settings"`
	RateLimit             LLMRateLimit   `json:"rate_limit"`
}

// PromptTemplate pairs a system prompt with a user prompt template. The user
// template carries {article_id}, {title}, {author}, {category} and
// {content_preview} placeholders.
type PromptTemplate struct {
	SystemPrompt       string `json:"system_prompt"`
	UserPromptTemplate string `json:"user_prompt_template"`
}

// ModelSettings are the chat-completion request parameters.
type ModelSettings struct {
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
}

// LLMRateLimit tunes the evaluation call budget and its in-call retry loop.
type LLMRateLimit struct {
	RequestsPerMinute int     `json:"requests_per_minute"`
	MaxRetries        int     `json:"max_retries"`
	RetryDelaySeconds float64 `json:"retry_delay_seconds"`
}

// PostingSchedule mirrors posting_schedule.json. The pipeline loads and
// validates it so a malformed file fails fast; the external poster consumes
// the content.
type PostingSchedule struct {
	DailyPosts        []ScheduledPost              `json:"daily_posts"`
	SelectionCriteria map[string]SelectionCriteria `json:"selection_criteria"`
}

// ScheduledPost is one daily posting slot, "HH:MM" local time.
type ScheduledPost struct {
	Time     string `json:"time"`
	PostType string `json:"post_type"`
}

// SelectionCriteria filters articles for one post type.
type SelectionCriteria struct {
	MinScore    int `json:"min_score"`
	MaxArticles int `json:"max_articles"`
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			DatabasePath: "backend/database/entertainment_columns.db",
			LogLevel:     "info",
			ConfigDir:    "config",
			OutputDir:    "output",
		},
		URLs: URLsConfig{
			CollectionSettings: CollectionSettings{
				RequestDelaySeconds:     1.0,
				OldArticleThresholdDays: 1,
				MaxRetries:              3,
				MaxPagesPerCategory:     5,
				TimeoutSeconds:          30,
				StopAfterOldArticles:    true,
				FetchArticleDetails:     true,
			},
		},
		Prompts: PromptSettings{
			ModelSettings: ModelSettings{
				Model:       "llama3-70b-8192",
				Temperature: 0.3,
				MaxTokens:   1000,
				TopP:        0.9,
			},
			RateLimit: LLMRateLimit{
				RequestsPerMinute: 30,
				MaxRetries:        3,
				RetryDelaySeconds: 2.0,
			},
		},
	}
}
