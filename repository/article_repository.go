// ABOUTME: This file implements persistence for fetched articles
// ABOUTME: Only metadata and the content preview are stored, never the full body
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

type ArticleRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewArticleRepository(db *sqlx.DB, logger *slog.Logger) *ArticleRepository {
	return &ArticleRepository{db: db, logger: logger, now: time.Now}
}

// Save upserts an article keyed on id. A re-run after a crash rewrites the
// same row; is_evaluated and created_at survive the update.
func (r *ArticleRepository) Save(article *models.Article) error {
	now := r.now().UTC()
	article.CreatedAt = now
	article.UpdatedAt = now

	const query = `
		INSERT INTO articles
			(id, title, url, thumbnail, published_at, author, content_preview,
			 category, collected_at, is_evaluated, created_at, updated_at)
		VALUES
			(:id, :title, :url, :thumbnail, :published_at, :author, :content_preview,
			 :category, :collected_at, FALSE, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			title           = excluded.title,
			url             = excluded.url,
			thumbnail       = excluded.thumbnail,
			published_at    = excluded.published_at,
			author          = excluded.author,
			content_preview = excluded.content_preview,
			category        = excluded.category,
			updated_at      = excluded.updated_at`

	if _, err := r.db.NamedExec(query, article); err != nil {
		return fmt.Errorf("failed to save article %s: %w", article.ID, err)
	}
	return nil
}

// GetByID returns the article or nil when absent.
func (r *ArticleRepository) GetByID(id string) (*models.Article, error) {
	var article models.Article
	err := r.db.Get(&article, `SELECT * FROM articles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article %s: %w", id, err)
	}
	return &article, nil
}

// MarkEvaluated flips is_evaluated once the evaluation is committed.
func (r *ArticleRepository) MarkEvaluated(id string) error {
	_, err := r.db.Exec(
		`UPDATE articles SET is_evaluated = TRUE, updated_at = ? WHERE id = ?`,
		r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark article evaluated: %w", err)
	}
	return nil
}

// EvaluatedFilter narrows the joined article+evaluation queries.
type EvaluatedFilter struct {
	MinScore int
	Limit    int
	Days     int
	Category string
}

// ListWithEvaluations returns evaluated articles joined with their scores,
// ordered by total score descending then recency.
func (r *ArticleRepository) ListWithEvaluations(filter EvaluatedFilter) ([]models.ArticleWithEvaluation, error) {
	query := `
		SELECT
			a.id, a.title, a.url, a.thumbnail, a.published_at,
			a.author, a.content_preview, a.category, a.collected_at,
			e.quality_score, e.originality_score, e.entertainment_score,
			e.total_score, e.ai_summary, e.evaluated_at
		FROM articles a
		INNER JOIN evaluations e ON a.id = e.article_id
		WHERE e.total_score >= ?`
	args := []any{filter.MinScore}

	if filter.Category != "" {
		query += ` AND a.category = ?`
		args = append(args, filter.Category)
	}
	if filter.Days > 0 {
		query += ` AND a.published_at >= ?`
		args = append(args, r.now().UTC().AddDate(0, 0, -filter.Days))
	}

	query += ` ORDER BY e.total_score DESC, a.published_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var articles []models.ArticleWithEvaluation
	if err := r.db.Select(&articles, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query evaluated articles: %w", err)
	}
	return articles, nil
}

// RecentWithEvaluations returns evaluated articles newest first, as published
// in the main feed.
func (r *ArticleRepository) RecentWithEvaluations(limit int) ([]models.ArticleWithEvaluation, error) {
	query := `
		SELECT
			a.id, a.title, a.url, a.thumbnail, a.published_at,
			a.author, a.content_preview, a.category, a.collected_at,
			e.quality_score, e.originality_score, e.entertainment_score,
			e.total_score, e.ai_summary, e.evaluated_at
		FROM articles a
		INNER JOIN evaluations e ON a.id = e.article_id
		ORDER BY a.published_at DESC`

	var articles []models.ArticleWithEvaluation
	var err error
	if limit > 0 {
		err = r.db.Select(&articles, query+` LIMIT ?`, limit)
	} else {
		err = r.db.Select(&articles, query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recent evaluated articles: %w", err)
	}
	return articles, nil
}

// TopWithEvaluations returns the highest scored articles deduplicated by
// article URL, keeping the best scored candidate per URL.
func (r *ArticleRepository) TopWithEvaluations(limit int) ([]models.ArticleWithEvaluation, error) {
	candidates, err := r.ListWithEvaluations(EvaluatedFilter{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(candidates))
	top := make([]models.ArticleWithEvaluation, 0, limit)
	for _, article := range candidates {
		if seen[article.URL] {
			continue
		}
		seen[article.URL] = true
		top = append(top, article)
		if limit > 0 && len(top) >= limit {
			break
		}
	}
	return top, nil
}

func (r *ArticleRepository) Count() (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM articles`); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return count, nil
}

func (r *ArticleRepository) EvaluatedCount() (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM articles WHERE is_evaluated = TRUE`); err != nil {
		return 0, fmt.Errorf("failed to count evaluated articles: %w", err)
	}
	return count, nil
}
