// ABOUTME: This file contains tests for the batch orchestrator
// ABOUTME: Covers the cold run, paid exclusion, idempotent re-runs and crash redo
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meron14725/note-columns-post-bot/config"
	"github.com/meron14725/note-columns-post-bot/models"
	"github.com/meron14725/note-columns-post-bot/publisher"
	"github.com/meron14725/note-columns-post-bot/repository"
	"github.com/meron14725/note-columns-post-bot/service"
)

type fakeCollector struct {
	refs  []models.ArticleReference
	calls int
}

func (f *fakeCollector) CollectReferences(context.Context) ([]models.ArticleReference, error) {
	f.calls++
	return f.refs, nil
}

type fakeFetcher struct {
	details map[string]*models.DetailRecord
	paid    map[string]bool
	calls   int
}

func (f *fakeFetcher) FetchDetail(_ context.Context, urlname, key string) (*models.DetailRecord, error) {
	f.calls++
	id := key + "_" + urlname
	if f.paid[id] {
		return nil, service.ErrPaidContent
	}
	detail, ok := f.details[id]
	if !ok {
		return nil, fmt.Errorf("no detail for %s", id)
	}
	return detail, nil
}

type fakeEvaluator struct {
	err   error
	calls int
}

func (f *fakeEvaluator) EvaluateWithContent(_ context.Context, article *models.Article, _ string) (*models.Evaluation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.Evaluation{
		ArticleID:          article.ID,
		QualityScore:       30,
		OriginalityScore:   20,
		EntertainmentScore: 20,
		TotalScore:         70,
		AISummary:          "読み応えのあるコラムでした。",
		EvaluatedAt:        time.Now().UTC(),
	}, nil
}

type fixture struct {
	processor *Processor
	collector *fakeCollector
	fetcher   *fakeFetcher
	evaluator *fakeEvaluator
	refs      *repository.ArticleReferenceRepository
	articles  *repository.ArticleRepository
	evals     *repository.EvaluationRepository
	outputDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := repository.Open(filepath.Join(t.TempDir(), "batch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.Default()
	refs := repository.NewArticleReferenceRepository(db, logger)
	articles := repository.NewArticleRepository(db, logger)
	evals := repository.NewEvaluationRepository(db, logger)
	outputDir := t.TempDir()

	collector := &fakeCollector{}
	fetcher := &fakeFetcher{
		details: make(map[string]*models.DetailRecord),
		paid:    make(map[string]bool),
	}
	evaluator := &fakeEvaluator{}

	cfg := &config.Config{}
	cfg.URLs.CollectionSettings.FetchArticleDetails = true
	pub := publisher.New(articles, evals, outputDir, []string{"music"}, logger)

	processor := NewProcessor(cfg, collector, fetcher, evaluator,
		refs, articles, evals, pub, logger)
	processor.sleep = func(context.Context, time.Duration) error { return nil }

	return &fixture{
		processor: processor,
		collector: collector,
		fetcher:   fetcher,
		evaluator: evaluator,
		refs:      refs,
		articles:  articles,
		evals:     evals,
		outputDir: outputDir,
	}
}

func (f *fixture) addSource(key, urlname, category string) {
	published := time.Now().UTC().Add(-time.Hour)
	f.collector.refs = append(f.collector.refs, models.ArticleReference{
		Key:         key,
		Urlname:     urlname,
		Category:    category,
		Title:       "記事 " + key,
		Author:      "著者",
		PublishedAt: &published,
		CollectedAt: time.Now().UTC(),
	})
	f.fetcher.details[key+"_"+urlname] = &models.DetailRecord{
		Key:            key,
		Title:          "詳細版 " + key,
		Author:         "著者",
		PublishedAt:    published,
		NoteType:       "TextNote",
		CanRead:        true,
		ContentPreview: "プレビュー",
		ContentFull:    "全文テキスト",
	}
}

func TestProcessor_ColdRun(t *testing.T) {
	f := newFixture(t)
	f.addSource("abc", "u", "music")

	require.NoError(t, f.processor.Run(context.Background(), Options{}))

	article, err := f.articles.GetByID("abc_u")
	require.NoError(t, err)
	require.NotNil(t, article)
	assert.Equal(t, "詳細版 abc", article.Title)
	assert.Equal(t, "https://note.com/u/n/abc", article.URL)
	assert.True(t, article.IsEvaluated)

	evaluation, err := f.evals.GetByArticleID("abc_u")
	require.NoError(t, err)
	require.NotNil(t, evaluation)
	assert.Equal(t, 70, evaluation.TotalScore)

	pending, err := f.refs.Unprocessed(0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Feeds come out of the same run.
	_, err = os.Stat(filepath.Join(f.outputDir, "data", "articles.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.outputDir, "data", "category_music.json"))
	assert.NoError(t, err)
}

func TestProcessor_PaidArticleIsExcludedPermanently(t *testing.T) {
	f := newFixture(t)
	f.addSource("paid", "u", "music")
	f.fetcher.paid["paid_u"] = true

	require.NoError(t, f.processor.Run(context.Background(), Options{}))

	// Nothing persisted, but the reference is consumed.
	article, err := f.articles.GetByID("paid_u")
	require.NoError(t, err)
	assert.Nil(t, article)

	pending, err := f.refs.Unprocessed(0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second run never refetches it.
	f.fetcher.calls = 0
	require.NoError(t, f.processor.Run(context.Background(), Options{}))
	assert.Zero(t, f.fetcher.calls)
}

func TestProcessor_SecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addSource("abc", "u", "music")

	require.NoError(t, f.processor.Run(context.Background(), Options{}))
	firstFetches := f.fetcher.calls

	require.NoError(t, f.processor.Run(context.Background(), Options{}))

	assert.Equal(t, firstFetches, f.fetcher.calls)
	assert.Equal(t, 2, f.collector.calls)

	count, err := f.evals.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProcessor_CrashBetweenWriteAndMarkIsRedone(t *testing.T) {
	f := newFixture(t)
	f.addSource("abc", "u", "music")

	// Simulate a previous run that died after committing the evaluation but
	// before flipping any flags.
	_, err := f.refs.SaveMany(f.collector.refs)
	require.NoError(t, err)
	require.NoError(t, f.articles.Save(&models.Article{
		ID:          "abc_u",
		Title:       "古いタイトル",
		URL:         "https://note.com/u/n/abc",
		Category:    "music",
		PublishedAt: time.Now().UTC(),
		CollectedAt: time.Now().UTC(),
	}))
	require.NoError(t, f.evals.Save(&models.Evaluation{
		ArticleID:          "abc_u",
		QualityScore:       10,
		OriginalityScore:   10,
		EntertainmentScore: 10,
		TotalScore:         30,
		AISummary:          "未完了の評価です。",
		EvaluatedAt:        time.Now().UTC(),
	}))

	require.NoError(t, f.processor.Run(context.Background(), Options{}))

	// The item was redone: one row, replaced by the fresh evaluation.
	count, err := f.evals.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	evaluation, err := f.evals.GetByArticleID("abc_u")
	require.NoError(t, err)
	assert.Equal(t, 70, evaluation.TotalScore)

	article, err := f.articles.GetByID("abc_u")
	require.NoError(t, err)
	assert.True(t, article.IsEvaluated)

	pending, err := f.refs.Unprocessed(0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessor_FailedItemStaysPending(t *testing.T) {
	f := newFixture(t)
	f.addSource("abc", "u", "music")
	f.evaluator.err = errors.New("model unavailable")

	// Item failures never fail the run.
	require.NoError(t, f.processor.Run(context.Background(), Options{}))

	pending, err := f.refs.Unprocessed(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "abc_u", pending[0].ArticleID())

	// The article row exists but is not evaluated.
	article, err := f.articles.GetByID("abc_u")
	require.NoError(t, err)
	require.NotNil(t, article)
	assert.False(t, article.IsEvaluated)

	count, err := f.evals.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessor_CategoryAndLimitFilters(t *testing.T) {
	f := newFixture(t)
	f.addSource("m1", "u1", "music")
	f.addSource("m2", "u2", "music")
	f.addSource("v1", "u3", "movie")

	require.NoError(t, f.processor.Run(context.Background(), Options{
		Categories: []string{"music"},
		Limit:      1,
	}))

	assert.Equal(t, 1, f.fetcher.calls)

	pending, err := f.refs.Unprocessed(0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestProcessor_MetadataOnlyModeSkipsDetailFetch(t *testing.T) {
	f := newFixture(t)
	f.addSource("abc", "u", "music")
	f.processor.cfg.URLs.CollectionSettings.FetchArticleDetails = false

	require.NoError(t, f.processor.Run(context.Background(), Options{}))

	assert.Zero(t, f.fetcher.calls)
	assert.Equal(t, 1, f.evaluator.calls)

	// The article comes from reference metadata alone.
	article, err := f.articles.GetByID("abc_u")
	require.NoError(t, err)
	require.NotNil(t, article)
	assert.Equal(t, "記事 abc", article.Title)
	assert.Empty(t, article.ContentPreview)
	assert.True(t, article.IsEvaluated)
}

func TestProcessor_JSONOnlySkipsCollectionAndProcessing(t *testing.T) {
	f := newFixture(t)
	f.addSource("abc", "u", "music")

	require.NoError(t, f.processor.Run(context.Background(), Options{JSONOnly: true}))

	assert.Zero(t, f.collector.calls)
	assert.Zero(t, f.fetcher.calls)

	_, err := os.Stat(filepath.Join(f.outputDir, "data", "articles.json"))
	assert.NoError(t, err)
}
