package models

import (
	"time"
)

// Article is the persisted record for an article whose details were fetched.
// Only the content preview is stored; the full body lives in memory for the
// duration of one evaluation and is never persisted.
type Article struct {
	ID             string    `db:"id"`
	Title          string    `db:"title"`
	URL            string    `db:"url"`
	Thumbnail      string    `db:"thumbnail"`
	PublishedAt    time.Time `db:"published_at"`
	Author         string    `db:"author"`
	ContentPreview string    `db:"content_preview"`
	Category       string    `db:"category"`
	CollectedAt    time.Time `db:"collected_at"`
	IsEvaluated    bool      `db:"is_evaluated"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// ArticleWithEvaluation joins an article with its committed evaluation, as
// consumed by the JSON publisher.
type ArticleWithEvaluation struct {
	ID                 string    `db:"id" json:"id"`
	Title              string    `db:"title" json:"title"`
	URL                string    `db:"url" json:"url"`
	Thumbnail          string    `db:"thumbnail" json:"thumbnail,omitempty"`
	PublishedAt        time.Time `db:"published_at" json:"published_at"`
	Author             string    `db:"author" json:"author"`
	ContentPreview     string    `db:"content_preview" json:"content_preview,omitempty"`
	Category           string    `db:"category" json:"category"`
	CollectedAt        time.Time `db:"collected_at" json:"collected_at"`
	QualityScore       int       `db:"quality_score" json:"quality_score"`
	OriginalityScore   int       `db:"originality_score" json:"originality_score"`
	EntertainmentScore int       `db:"entertainment_score" json:"entertainment_score"`
	TotalScore         int       `db:"total_score" json:"total_score"`
	AISummary          string    `db:"ai_summary" json:"ai_summary"`
	EvaluatedAt        time.Time `db:"evaluated_at" json:"evaluated_at"`
}
