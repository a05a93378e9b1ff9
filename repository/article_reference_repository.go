// ABOUTME: This file implements the persistent set of discovered article references
// ABOUTME: Upserts preserve the processed flag so references are fetched at most once
package repository

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/meron14725/note-columns-post-bot/models"
)

type ArticleReferenceRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewArticleReferenceRepository(db *sqlx.DB, logger *slog.Logger) *ArticleReferenceRepository {
	return &ArticleReferenceRepository{db: db, logger: logger}
}

// SaveMany upserts references keyed on (key, urlname). Re-saving an existing
// reference refreshes its mutable fields but never touches is_processed or
// the original collected_at. Returns the number of rows written.
func (r *ArticleReferenceRepository) SaveMany(refs []models.ArticleReference) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	tx, err := r.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO article_references
			(key, urlname, category, title, author, thumbnail, published_at, collected_at, is_processed)
		VALUES
			(:key, :urlname, :category, :title, :author, :thumbnail, :published_at, :collected_at, FALSE)
		ON CONFLICT (key, urlname) DO UPDATE SET
			category     = excluded.category,
			title        = excluded.title,
			author       = excluded.author,
			thumbnail    = excluded.thumbnail,
			published_at = excluded.published_at`

	saved := 0
	for _, ref := range refs {
		if _, err := tx.NamedExec(query, ref); err != nil {
			return 0, fmt.Errorf("failed to save reference %s: %w", ref.ArticleID(), err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit references: %w", err)
	}

	r.logger.Info("saved article references", "count", saved)
	return saved, nil
}

// ExistingKeys returns the set of known composite identities for discovery
// time deduping.
func (r *ArticleReferenceRepository) ExistingKeys() (map[string]bool, error) {
	rows, err := r.db.Queryx(`SELECT key, urlname FROM article_references`)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key, urlname string
		if err := rows.Scan(&key, &urlname); err != nil {
			return nil, fmt.Errorf("failed to scan reference key: %w", err)
		}
		keys[key+"_"+urlname] = true
	}
	return keys, rows.Err()
}

// Unprocessed returns references awaiting evaluation in FIFO order by
// collection time. A limit of zero means no limit.
func (r *ArticleReferenceRepository) Unprocessed(limit int) ([]models.ArticleReference, error) {
	query := `
		SELECT key, urlname, category, title, author, thumbnail, published_at, collected_at, is_processed
		FROM article_references
		WHERE is_processed = FALSE
		ORDER BY collected_at ASC`

	var refs []models.ArticleReference
	var err error
	if limit > 0 {
		err = r.db.Select(&refs, query+` LIMIT ?`, limit)
	} else {
		err = r.db.Select(&refs, query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed references: %w", err)
	}
	return refs, nil
}

// MarkProcessed flips the processed flag. Idempotent.
func (r *ArticleReferenceRepository) MarkProcessed(key, urlname string) error {
	_, err := r.db.Exec(
		`UPDATE article_references SET is_processed = TRUE WHERE key = ? AND urlname = ?`,
		key, urlname)
	if err != nil {
		return fmt.Errorf("failed to mark reference processed: %w", err)
	}
	return nil
}

func (r *ArticleReferenceRepository) CountsByCategory() (map[string]int, error) {
	rows, err := r.db.Queryx(
		`SELECT category, COUNT(*) AS count FROM article_references GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to count references by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

func (r *ArticleReferenceRepository) Total() (int, error) {
	var total int
	if err := r.db.Get(&total, `SELECT COUNT(*) FROM article_references`); err != nil {
		return 0, fmt.Errorf("failed to count references: %w", err)
	}
	return total, nil
}
