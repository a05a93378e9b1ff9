// ABOUTME: This file implements the LLM evaluator for collected articles
// ABOUTME: Prompt construction, response parsing, score validation and duplicate retry
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/meron14725/note-columns-post-bot/config"
	"github.com/meron14725/note-columns-post-bot/driver"
	"github.com/meron14725/note-columns-post-bot/models"
	"github.com/meron14725/note-columns-post-bot/ratelimit"
)

const retryReasonPrefix = "duplicate_score_pattern"

type Evaluator struct {
	chat     ChatCompleter
	governor *ratelimit.Governor
	detector *DuplicateDetector
	prompts  config.PromptSettings
	logger   *slog.Logger

	sleep     func(context.Context, time.Duration) error
	randFloat func() float64
}

func NewEvaluator(
	chat ChatCompleter,
	governor *ratelimit.Governor,
	detector *DuplicateDetector,
	prompts config.PromptSettings,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		chat:      chat,
		governor:  governor,
		detector:  detector,
		prompts:   prompts,
		logger:    logger,
		sleep:     sleepContext,
		randFloat: rand.Float64,
	}
}

// Evaluate scores an article from its persisted preview only. Used when no
// full body is available.
func (e *Evaluator) Evaluate(ctx context.Context, article *models.Article) (*models.Evaluation, error) {
	return e.EvaluateWithContent(ctx, article, article.ContentPreview)
}

// EvaluateWithContent scores an article using the externally supplied full
// body. The body is consumed here and never stored.
func (e *Evaluator) EvaluateWithContent(ctx context.Context, article *models.Article, fullBody string) (*models.Evaluation, error) {
	content := e.prepareContent(article, fullBody)

	messages := buildMessages(e.prompts.EvaluationPrompt, article, content)
	result, err := e.callChat(ctx, messages, article.ID, e.baseTemperature)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed for %s: %w", article.ID, err)
	}

	if !e.detector.Observe(article.ID, result) {
		return result.ToEvaluation(article.ID), nil
	}

	retryResult, err := e.retryEvaluation(ctx, article, content)
	if err != nil {
		// Retry failures fall back to the original result.
		e.logger.Warn("retry evaluation failed, keeping original",
			"article_id", article.ID, "error", err)
		return result.ToEvaluation(article.ID), nil
	}

	// The retry result enters the ring too; its own retry signal is ignored
	// because a retried article never re-enters retry.
	e.detector.Observe(article.ID, retryResult)

	evaluation := retryResult.ToEvaluation(article.ID)
	evaluation.IsRetryEvaluation = true
	evaluation.RetryReason = fmt.Sprintf("%s: %s", retryReasonPrefix, result.ScorePattern())
	evaluation.Metadata = retryMetadataJSON(result, retryResult)
	return evaluation, nil
}

func (e *Evaluator) retryEvaluation(ctx context.Context, article *models.Article, content string) (*models.AIEvaluationResult, error) {
	messages := buildMessages(e.prompts.RetryEvaluationPrompt, article, content)
	return e.callChat(ctx, messages, article.ID, e.retryTemperature)
}

// prepareContent cleans and bounds the body text sent to the model. An empty
// body degrades to a title-only stub.
func (e *Evaluator) prepareContent(article *models.Article, fullBody string) string {
	content := truncateRunes(stripTags(fullBody), evaluationContentLimit)
	if content == "" {
		content = fmt.Sprintf("タイトル: %s", article.Title)
	}
	return content
}

// buildMessages expands the prompt template. Substitution is literal; the
// template instructs the model on the expected JSON shape.
func buildMessages(template config.PromptTemplate, article *models.Article, content string) []driver.ChatMessage {
	category := article.Category
	if category == "" {
		category = "未分類"
	}

	replacer := strings.NewReplacer(
		"{article_id}", article.ID,
		"{title}", article.Title,
		"{author}", article.Author,
		"{category}", category,
		"{content_preview}", content,
	)

	return []driver.ChatMessage{
		{Role: "system", Content: template.SystemPrompt},
		{Role: "user", Content: replacer.Replace(template.UserPromptTemplate)},
	}
}

// baseTemperature jitters the configured temperature by ±0.05 so repeated
// calls do not produce identical evaluations.
func (e *Evaluator) baseTemperature() float64 {
	temp := e.prompts.ModelSettings.Temperature + (e.randFloat()-0.5)*0.1
	return clampFloat(temp, 0.1, 0.8)
}

// retryTemperature samples a markedly higher temperature for diversity.
func (e *Evaluator) retryTemperature() float64 {
	temp := e.prompts.ModelSettings.Temperature + 0.2 + e.randFloat()*0.3
	return clampFloat(temp, 0.5, 0.8)
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// callChat performs the rate-limited chat call with exponential backoff on
// transient transport and parse failures.
func (e *Evaluator) callChat(
	ctx context.Context,
	messages []driver.ChatMessage,
	expectedArticleID string,
	temperature func() float64,
) (*models.AIEvaluationResult, error) {
	settings := e.prompts.ModelSettings
	limits := e.prompts.RateLimit

	maxRetries := limits.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryDelay := time.Duration(limits.RetryDelaySeconds * float64(time.Second))

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// First retry waits the base delay, then it doubles.
			backoff := retryDelay * time.Duration(1<<(attempt-1))
			if err := e.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		if err := e.governor.Await(ctx, ServiceLLM); err != nil {
			return nil, err
		}

		content, err := e.chat.CreateChatCompletion(ctx, driver.ChatCompletionRequest{
			Model:            settings.Model,
			Messages:         messages,
			Temperature:      temperature(),
			MaxTokens:        settings.MaxTokens,
			TopP:             settings.TopP,
			FrequencyPenalty: settings.FrequencyPenalty,
			PresencePenalty:  settings.PresencePenalty,
		})
		e.governor.Record(ServiceLLM)
		if err != nil {
			kind := Classify(err)
			if !kind.Retryable() {
				return nil, err
			}
			lastErr = err
			e.logger.Warn("llm call failed, will retry",
				"article_id", expectedArticleID,
				"attempt", attempt+1,
				"kind", kind.String(),
				"error", err)
			continue
		}

		result, err := ParseEvaluationResponse(content, expectedArticleID, e.logger)
		if err != nil {
			lastErr = err
			e.logger.Warn("llm response unparseable, will retry",
				"article_id", expectedArticleID,
				"attempt", attempt+1,
				"kind", Classify(err).String(),
				"error", err)
			continue
		}
		return result, nil
	}

	return nil, fmt.Errorf("llm call exhausted %d attempts: %w", maxRetries, lastErr)
}

// rawEvaluation distinguishes absent fields from zero values, so defaults
// only apply to what the model actually omitted.
type rawEvaluation struct {
	ArticleID          *flexString `json:"article_id"`
	QualityScore       *flexInt    `json:"quality_score"`
	OriginalityScore   *flexInt    `json:"originality_score"`
	EntertainmentScore *flexInt    `json:"entertainment_score"`
	TotalScore         *flexInt    `json:"total_score"`
	AISummary          *flexString `json:"ai_summary"`
}

// flexInt accepts numbers sent as JSON strings or floats.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt(int(v))
	return nil
}

// flexString accepts strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.Trim(string(data), `"`))
	return nil
}

// ParseEvaluationResponse extracts and validates the first JSON object in
// the model's reply. Parsing is deterministic: the same input always yields
// the same result.
func ParseEvaluationResponse(content, expectedArticleID string, logger *slog.Logger) (*models.AIEvaluationResult, error) {
	blob := firstJSONObject(content)
	if blob == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrUnparseableResponse)
	}

	var raw rawEvaluation
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrUnparseableResponse, err)
	}

	result := &models.AIEvaluationResult{
		QualityScore:       models.DefaultQualityScore,
		OriginalityScore:   models.DefaultOriginalityScore,
		EntertainmentScore: models.DefaultEntertainmentScore,
	}

	if raw.QualityScore != nil {
		result.QualityScore = int(*raw.QualityScore)
	}
	if raw.OriginalityScore != nil {
		result.OriginalityScore = int(*raw.OriginalityScore)
	}
	if raw.EntertainmentScore != nil {
		result.EntertainmentScore = int(*raw.EntertainmentScore)
	}
	if raw.AISummary != nil {
		result.AISummary = string(*raw.AISummary)
	}

	// Never accept the model's claim of identity.
	if raw.ArticleID != nil && string(*raw.ArticleID) != expectedArticleID {
		logger.Warn("llm response claimed wrong article id",
			"expected", expectedArticleID,
			"claimed", string(*raw.ArticleID))
	}
	result.ArticleID = expectedArticleID

	result.Normalize()
	return result, nil
}

// firstJSONObject returns the first balanced {...} substring, honoring
// strings and escapes.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

type retryMetadata struct {
	ScorePatternOriginal string `json:"score_pattern_original"`
	ScorePatternRetry    string `json:"score_pattern_retry"`
	OriginalTotalScore   int    `json:"original_total_score"`
	RetryTotalScore      int    `json:"retry_total_score"`
	OriginalSummary      string `json:"original_ai_summary"`
}

func retryMetadataJSON(original, retry *models.AIEvaluationResult) string {
	data, err := json.Marshal(retryMetadata{
		ScorePatternOriginal: original.ScorePattern(),
		ScorePatternRetry:    retry.ScorePattern(),
		OriginalTotalScore:   original.TotalScore,
		RetryTotalScore:      retry.TotalScore,
		OriginalSummary:      original.AISummary,
	})
	if err != nil {
		return ""
	}
	return string(data)
}
