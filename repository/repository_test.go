// ABOUTME: This file contains tests for the SQLite-backed stores
// ABOUTME: Uses temp-file databases; covers upsert idempotence and query helpers
package repository

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meron14725/note-columns-post-bot/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRef(key, urlname, category string, collectedAt time.Time) models.ArticleReference {
	published := collectedAt.Add(-time.Hour)
	return models.ArticleReference{
		Key:         key,
		Urlname:     urlname,
		Category:    category,
		Title:       "title " + key,
		Author:      "author",
		PublishedAt: &published,
		CollectedAt: collectedAt,
	}
}

func TestArticleReferenceRepository_SaveManyIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewArticleReferenceRepository(db, slog.Default())

	now := time.Now().UTC().Truncate(time.Second)
	refs := []models.ArticleReference{
		testRef("abc", "writer1", "entertainment", now),
		testRef("def", "writer2", "music", now.Add(time.Minute)),
	}

	saved, err := repo.SaveMany(refs)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	// Second run leaves the store identical to the first.
	saved, err = repo.SaveMany(refs)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	total, err := repo.Total()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestArticleReferenceRepository_UpsertPreservesProcessedFlag(t *testing.T) {
	db := newTestDB(t)
	repo := NewArticleReferenceRepository(db, slog.Default())

	now := time.Now().UTC().Truncate(time.Second)
	ref := testRef("abc", "writer1", "entertainment", now)

	_, err := repo.SaveMany([]models.ArticleReference{ref})
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessed("abc", "writer1"))

	// Rediscovery with a fresher title must not reset the flag.
	ref.Title = "updated title"
	_, err = repo.SaveMany([]models.ArticleReference{ref})
	require.NoError(t, err)

	unprocessed, err := repo.Unprocessed(0)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestArticleReferenceRepository_UnprocessedIsFIFO(t *testing.T) {
	db := newTestDB(t)
	repo := NewArticleReferenceRepository(db, slog.Default())

	base := time.Now().UTC().Truncate(time.Second)
	refs := []models.ArticleReference{
		testRef("newer", "w", "c", base.Add(2*time.Minute)),
		testRef("oldest", "w", "c", base),
		testRef("middle", "w", "c", base.Add(time.Minute)),
	}
	_, err := repo.SaveMany(refs)
	require.NoError(t, err)

	unprocessed, err := repo.Unprocessed(2)
	require.NoError(t, err)
	require.Len(t, unprocessed, 2)
	assert.Equal(t, "oldest", unprocessed[0].Key)
	assert.Equal(t, "middle", unprocessed[1].Key)
}

func TestArticleReferenceRepository_ExistingKeysAndCounts(t *testing.T) {
	db := newTestDB(t)
	repo := NewArticleReferenceRepository(db, slog.Default())

	now := time.Now().UTC()
	_, err := repo.SaveMany([]models.ArticleReference{
		testRef("abc", "writer1", "entertainment", now),
		testRef("def", "writer2", "entertainment", now),
		testRef("ghi", "writer3", "music", now),
	})
	require.NoError(t, err)

	keys, err := repo.ExistingKeys()
	require.NoError(t, err)
	assert.True(t, keys["abc_writer1"])
	assert.False(t, keys["abc_writer9"])

	counts, err := repo.CountsByCategory()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"entertainment": 2, "music": 1}, counts)
}

func testArticle(id, url, category string, publishedAt time.Time) *models.Article {
	return &models.Article{
		ID:             id,
		Title:          "title " + id,
		URL:            url,
		PublishedAt:    publishedAt,
		Author:         "author",
		ContentPreview: "preview",
		Category:       category,
		CollectedAt:    publishedAt.Add(time.Hour),
	}
}

func TestArticleRepository_SavePreservesEvaluatedFlag(t *testing.T) {
	db := newTestDB(t)
	repo := NewArticleRepository(db, slog.Default())

	now := time.Now().UTC().Truncate(time.Second)
	article := testArticle("abc_writer1", "https://note.com/writer1/n/abc", "entertainment", now)

	require.NoError(t, repo.Save(article))
	require.NoError(t, repo.MarkEvaluated(article.ID))

	// A crash redo rewrites the article row.
	article.Title = "refetched title"
	require.NoError(t, repo.Save(article))

	stored, err := repo.GetByID(article.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "refetched title", stored.Title)
	assert.True(t, stored.IsEvaluated)

	count, err := repo.EvaluatedCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestArticleRepository_GetByIDMissingReturnsNil(t *testing.T) {
	db := newTestDB(t)
	repo := NewArticleRepository(db, slog.Default())

	article, err := repo.GetByID("missing_id")
	require.NoError(t, err)
	assert.Nil(t, article)
}

func saveEvaluated(t *testing.T, articles *ArticleRepository, evaluations *EvaluationRepository,
	article *models.Article, total int) {
	t.Helper()
	require.NoError(t, articles.Save(article))

	eval := &models.Evaluation{
		ArticleID:          article.ID,
		QualityScore:       total - 50,
		OriginalityScore:   30,
		EntertainmentScore: 20,
		TotalScore:         total,
		AISummary:          "summary for " + article.ID,
		EvaluatedAt:        time.Now().UTC(),
	}
	require.NoError(t, evaluations.Save(eval))
	require.NoError(t, articles.MarkEvaluated(article.ID))
}

func TestArticleRepository_TopWithEvaluationsDeduplicatesByURL(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleRepository(db, slog.Default())
	evaluations := NewEvaluationRepository(db, slog.Default())

	now := time.Now().UTC().Truncate(time.Second)
	sharedURL := "https://note.com/writer1/n/abc"

	saveEvaluated(t, articles, evaluations, testArticle("abc_writer1", sharedURL, "a", now), 90)
	saveEvaluated(t, articles, evaluations, testArticle("abc_writer1dup", sharedURL, "a", now), 70)
	saveEvaluated(t, articles, evaluations, testArticle("def_writer2", "https://note.com/writer2/n/def", "b", now), 80)

	top, err := articles.TopWithEvaluations(10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "abc_writer1", top[0].ID)
	assert.Equal(t, 90, top[0].TotalScore)
	assert.Equal(t, "def_writer2", top[1].ID)
}

func TestArticleRepository_ListWithEvaluationsFilters(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleRepository(db, slog.Default())
	evaluations := NewEvaluationRepository(db, slog.Default())

	now := time.Now().UTC().Truncate(time.Second)
	saveEvaluated(t, articles, evaluations, testArticle("a1", "u1", "music", now), 85)
	saveEvaluated(t, articles, evaluations, testArticle("a2", "u2", "music", now), 55)
	saveEvaluated(t, articles, evaluations, testArticle("a3", "u3", "comics", now), 75)

	got, err := articles.ListWithEvaluations(EvaluatedFilter{MinScore: 60, Category: "music"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	recent, err := articles.RecentWithEvaluations(2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestEvaluationRepository_SaveReplacesRowForRetry(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleRepository(db, slog.Default())
	evaluations := NewEvaluationRepository(db, slog.Default())

	now := time.Now().UTC().Truncate(time.Second)
	article := testArticle("abc_writer1", "https://note.com/writer1/n/abc", "a", now)
	require.NoError(t, articles.Save(article))

	original := &models.Evaluation{
		ArticleID:          article.ID,
		QualityScore:       30,
		OriginalityScore:   20,
		EntertainmentScore: 20,
		TotalScore:         70,
		AISummary:          "first evaluation summary",
		EvaluatedAt:        now,
	}
	require.NoError(t, evaluations.Save(original))

	retry := &models.Evaluation{
		ArticleID:          article.ID,
		QualityScore:       35,
		OriginalityScore:   25,
		EntertainmentScore: 22,
		TotalScore:         82,
		AISummary:          "retry evaluation summary",
		IsRetryEvaluation:  true,
		RetryReason:        "duplicate_score_pattern",
		Metadata:           `{"original_scores":"30/20/20","retry_scores":"35/25/22"}`,
		EvaluatedAt:        now.Add(time.Minute),
	}
	require.NoError(t, evaluations.Save(retry))

	stored, err := evaluations.GetByArticleID(article.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 82, stored.TotalScore)
	assert.True(t, stored.IsRetryEvaluation)
	assert.Equal(t, "duplicate_score_pattern", stored.RetryReason)
	assert.Contains(t, stored.Metadata, "30/20/20")

	count, err := evaluations.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEvaluationRepository_MaxScoresRoundTrip(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleRepository(db, slog.Default())
	evaluations := NewEvaluationRepository(db, slog.Default())

	now := time.Now().UTC().Truncate(time.Second)
	article := testArticle("max_writer", "https://note.com/writer/n/max", "a", now)
	require.NoError(t, articles.Save(article))

	eval := &models.Evaluation{
		ArticleID:          article.ID,
		QualityScore:       models.QualityScoreMax,
		OriginalityScore:   models.OriginalityScoreMax,
		EntertainmentScore: models.EntertainmentScoreMax,
		TotalScore:         100,
		AISummary:          "a perfect score summary",
		EvaluatedAt:        now,
	}
	require.NoError(t, evaluations.Save(eval))

	stored, err := evaluations.GetByArticleID(article.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, stored.QualityScore)
	assert.Equal(t, 30, stored.OriginalityScore)
	assert.Equal(t, 30, stored.EntertainmentScore)
	assert.Equal(t, 100, stored.TotalScore)
}

func TestEvaluationRepository_Statistics(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleRepository(db, slog.Default())
	evaluations := NewEvaluationRepository(db, slog.Default())

	now := time.Now().UTC().Truncate(time.Second)
	saveEvaluated(t, articles, evaluations, testArticle("s1", "u1", "a", now), 90)
	saveEvaluated(t, articles, evaluations, testArticle("s2", "u2", "a", now), 70)
	saveEvaluated(t, articles, evaluations, testArticle("s3", "u3", "a", now), 50)

	stats, err := evaluations.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 90, stats.Max)
	assert.Equal(t, 50, stats.Min)
	assert.InDelta(t, 70.0, stats.Average, 0.01)
	assert.Equal(t, 1, stats.High)
	assert.Equal(t, 1, stats.Medium)
	assert.Equal(t, 1, stats.Low)
}
