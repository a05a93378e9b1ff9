package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Score component bounds.
const (
	QualityScoreMax       = 40
	OriginalityScoreMax   = 30
	EntertainmentScoreMax = 30

	SummaryMinLength = 10
	SummaryMaxLength = 300
)

// Score defaults substituted when the model response omits a field.
const (
	DefaultQualityScore       = 20
	DefaultOriginalityScore   = 15
	DefaultEntertainmentScore = 15
)

// DefaultSummary replaces a missing ai_summary in a model response.
const DefaultSummary = "AI評価の詳細が取得できませんでした。記事内容を確認してお楽しみください。"

// SummaryPadding is appended to summaries below the length floor.
const SummaryPadding = "記事の詳細をご確認ください。"

// Evaluation is the committed scored output for one article. Exactly one
// evaluation exists per article; a retry replaces the row and records the
// original pattern in Metadata.
type Evaluation struct {
	ID                 int64      `db:"id"`
	ArticleID          string     `db:"article_id"`
	QualityScore       int        `db:"quality_score"`
	OriginalityScore   int        `db:"originality_score"`
	EntertainmentScore int        `db:"entertainment_score"`
	TotalScore         int        `db:"total_score"`
	AISummary          string     `db:"ai_summary"`
	IsRetryEvaluation  bool       `db:"is_retry_evaluation"`
	RetryReason        string     `db:"retry_reason"`
	Metadata           string     `db:"evaluation_metadata"` // JSON blob, empty when not a retry
	EvaluatedAt        time.Time  `db:"evaluated_at"`
	CreatedAt          time.Time  `db:"created_at"`
	OriginalID         *int64     `db:"original_evaluation_id"`
}

// AIEvaluationResult is the parsed and validated model response. Construct it
// through Normalize so the invariants (score ranges, summary bounds, total
// recomputation) always hold.
type AIEvaluationResult struct {
	ArticleID          string `json:"article_id"`
	QualityScore       int    `json:"quality_score"`
	OriginalityScore   int    `json:"originality_score"`
	EntertainmentScore int    `json:"entertainment_score"`
	TotalScore         int    `json:"total_score"`
	AISummary          string `json:"ai_summary"`
}

// ScorePattern renders the "{quality}/{originality}/{entertainment}" triple
// used by the duplicate detector.
func (r *AIEvaluationResult) ScorePattern() string {
	return fmt.Sprintf("%d/%d/%d", r.QualityScore, r.OriginalityScore, r.EntertainmentScore)
}

// Normalize clamps scores into their documented ranges, enforces the summary
// length bounds and recomputes the total from components. The model's own
// total is advisory and never trusted.
func (r *AIEvaluationResult) Normalize() {
	r.QualityScore = clamp(r.QualityScore, 0, QualityScoreMax)
	r.OriginalityScore = clamp(r.OriginalityScore, 0, OriginalityScoreMax)
	r.EntertainmentScore = clamp(r.EntertainmentScore, 0, EntertainmentScoreMax)
	r.TotalScore = r.QualityScore + r.OriginalityScore + r.EntertainmentScore

	summary := strings.TrimSpace(r.AISummary)
	if summary == "" {
		summary = DefaultSummary
	}
	for utf8.RuneCountInString(summary) < SummaryMinLength {
		summary += SummaryPadding
	}
	if utf8.RuneCountInString(summary) > SummaryMaxLength {
		summary = truncateRunes(summary, SummaryMaxLength-3) + "..."
	}
	r.AISummary = summary
}

// ToEvaluation converts the result into a persistable Evaluation for the
// given article.
func (r *AIEvaluationResult) ToEvaluation(articleID string) *Evaluation {
	return &Evaluation{
		ArticleID:          articleID,
		QualityScore:       r.QualityScore,
		OriginalityScore:   r.OriginalityScore,
		EntertainmentScore: r.EntertainmentScore,
		TotalScore:         r.TotalScore,
		AISummary:          r.AISummary,
		EvaluatedAt:        time.Now().UTC(),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
