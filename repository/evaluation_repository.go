// ABOUTME: This file implements persistence for scored evaluations
// ABOUTME: One row per article; a retry evaluation replaces the original row
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/meron14725/note-columns-post-bot/models"
)

type EvaluationRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewEvaluationRepository(db *sqlx.DB, logger *slog.Logger) *EvaluationRepository {
	return &EvaluationRepository{db: db, logger: logger, now: time.Now}
}

// Save upserts the evaluation keyed on article_id. Saving again for the same
// article (a crash redo or a duplicate-pattern retry) replaces the row.
func (r *EvaluationRepository) Save(evaluation *models.Evaluation) error {
	evaluation.CreatedAt = r.now().UTC()

	const query = `
		INSERT INTO evaluations
			(article_id, quality_score, originality_score, entertainment_score,
			 total_score, ai_summary, is_retry_evaluation, retry_reason,
			 evaluation_metadata, original_evaluation_id, evaluated_at, created_at)
		VALUES
			(:article_id, :quality_score, :originality_score, :entertainment_score,
			 :total_score, :ai_summary, :is_retry_evaluation, :retry_reason,
			 :evaluation_metadata, :original_evaluation_id, :evaluated_at, :created_at)
		ON CONFLICT (article_id) DO UPDATE SET
			quality_score          = excluded.quality_score,
			originality_score      = excluded.originality_score,
			entertainment_score    = excluded.entertainment_score,
			total_score            = excluded.total_score,
			ai_summary             = excluded.ai_summary,
			is_retry_evaluation    = excluded.is_retry_evaluation,
			retry_reason           = excluded.retry_reason,
			evaluation_metadata    = excluded.evaluation_metadata,
			original_evaluation_id = excluded.original_evaluation_id,
			evaluated_at           = excluded.evaluated_at`

	if _, err := r.db.NamedExec(query, evaluation); err != nil {
		return fmt.Errorf("failed to save evaluation for %s: %w", evaluation.ArticleID, err)
	}
	return nil
}

// GetByArticleID returns the committed evaluation or nil when absent.
func (r *EvaluationRepository) GetByArticleID(articleID string) (*models.Evaluation, error) {
	var evaluation models.Evaluation
	err := r.db.Get(&evaluation, `SELECT * FROM evaluations WHERE article_id = ?`, articleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation for %s: %w", articleID, err)
	}
	return &evaluation, nil
}

func (r *EvaluationRepository) Count() (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM evaluations`); err != nil {
		return 0, fmt.Errorf("failed to count evaluations: %w", err)
	}
	return count, nil
}

// Stats summarizes committed totals for the batch summary log and stats feed.
type Stats struct {
	Count   int     `db:"count"`
	Average float64 `db:"average"`
	Min     int     `db:"min"`
	Max     int     `db:"max"`
	High    int     `db:"high"`   // total >= 80
	Medium  int     `db:"medium"` // 60..79
	Low     int     `db:"low"`    // < 60
}

func (r *EvaluationRepository) Statistics() (*Stats, error) {
	const query = `
		SELECT
			COUNT(*)                                             AS count,
			COALESCE(AVG(total_score), 0)                        AS average,
			COALESCE(MIN(total_score), 0)                        AS min,
			COALESCE(MAX(total_score), 0)                        AS max,
			COALESCE(SUM(total_score >= 80), 0)                  AS high,
			COALESCE(SUM(total_score >= 60 AND total_score < 80), 0) AS medium,
			COALESCE(SUM(total_score < 60), 0)                   AS low
		FROM evaluations`

	var stats Stats
	if err := r.db.Get(&stats, query); err != nil {
		return nil, fmt.Errorf("failed to compute evaluation statistics: %w", err)
	}
	return &stats, nil
}
