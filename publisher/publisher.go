// ABOUTME: This file regenerates the static JSON feeds consumed by the website
// ABOUTME: Pure read side of the stores; every file write is atomic
package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/meron14725/note-columns-post-bot/models"
	"github.com/meron14725/note-columns-post-bot/repository"
)

const (
	topArticleCount      = 5
	categoryArticleLimit = 20
	articleFeedDays      = 30
)

type Publisher struct {
	articles    *repository.ArticleRepository
	evaluations *repository.EvaluationRepository
	outputDir   string
	categories  []string
	logger      *slog.Logger
	now         func() time.Time
}

func New(
	articles *repository.ArticleRepository,
	evaluations *repository.EvaluationRepository,
	outputDir string,
	categories []string,
	logger *slog.Logger,
) *Publisher {
	return &Publisher{
		articles:    articles,
		evaluations: evaluations,
		outputDir:   outputDir,
		categories:  categories,
		logger:      logger,
		now:         time.Now,
	}
}

type articleFeed struct {
	LastUpdated time.Time                      `json:"last_updated"`
	Total       int                            `json:"total"`
	Articles    []models.ArticleWithEvaluation `json:"articles"`
}

type topFeed struct {
	LastUpdated time.Time                      `json:"last_updated"`
	Period      string                         `json:"period"`
	Articles    []models.ArticleWithEvaluation `json:"articles"`
}

type categoryFeed struct {
	LastUpdated time.Time                      `json:"last_updated"`
	Category    string                         `json:"category"`
	Count       int                            `json:"count"`
	Articles    []models.ArticleWithEvaluation `json:"articles"`
}

type statsFeed struct {
	LastUpdated       time.Time      `json:"last_updated"`
	TotalArticles     int            `json:"total_articles"`
	EvaluatedArticles int            `json:"evaluated_articles"`
	Evaluations       statsBreakdown `json:"evaluations"`
}

type statsBreakdown struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	High    int     `json:"high"`
	Medium  int     `json:"medium"`
	Low     int     `json:"low"`
}

// PublishAll regenerates every feed file. Individual feed failures abort the
// run; a partially written file is never visible because writes go through a
// rename.
func (p *Publisher) PublishAll() error {
	dir := filepath.Join(p.outputDir, "data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create feed directory: %w", err)
	}

	if err := p.publishArticles(dir); err != nil {
		return err
	}
	if err := p.publishTopArticles(dir); err != nil {
		return err
	}
	for _, category := range p.categories {
		if err := p.publishCategory(dir, category); err != nil {
			return err
		}
	}
	if err := p.publishStats(dir); err != nil {
		return err
	}

	p.logger.Info("feeds regenerated", "dir", dir, "categories", len(p.categories))
	return nil
}

func (p *Publisher) publishArticles(dir string) error {
	articles, err := p.articles.ListWithEvaluations(repository.EvaluatedFilter{Days: articleFeedDays})
	if err != nil {
		return err
	}

	return p.writeFeed(filepath.Join(dir, "articles.json"), articleFeed{
		LastUpdated: p.now().UTC(),
		Total:       len(articles),
		Articles:    articles,
	})
}

func (p *Publisher) publishTopArticles(dir string) error {
	articles, err := p.articles.TopWithEvaluations(topArticleCount)
	if err != nil {
		return err
	}

	return p.writeFeed(filepath.Join(dir, "top_articles.json"), topFeed{
		LastUpdated: p.now().UTC(),
		Period:      "daily",
		Articles:    articles,
	})
}

func (p *Publisher) publishCategory(dir, category string) error {
	articles, err := p.articles.ListWithEvaluations(repository.EvaluatedFilter{
		Category: category,
		Limit:    categoryArticleLimit,
	})
	if err != nil {
		return err
	}

	name := fmt.Sprintf("category_%s.json", category)
	return p.writeFeed(filepath.Join(dir, name), categoryFeed{
		LastUpdated: p.now().UTC(),
		Category:    category,
		Count:       len(articles),
		Articles:    articles,
	})
}

func (p *Publisher) publishStats(dir string) error {
	total, err := p.articles.Count()
	if err != nil {
		return err
	}
	evaluated, err := p.articles.EvaluatedCount()
	if err != nil {
		return err
	}
	stats, err := p.evaluations.Statistics()
	if err != nil {
		return err
	}

	return p.writeFeed(filepath.Join(dir, "stats.json"), statsFeed{
		LastUpdated:       p.now().UTC(),
		TotalArticles:     total,
		EvaluatedArticles: evaluated,
		Evaluations: statsBreakdown{
			Count:   stats.Count,
			Average: stats.Average,
			Min:     stats.Min,
			Max:     stats.Max,
			High:    stats.High,
			Medium:  stats.Medium,
			Low:     stats.Low,
		},
	})
}

// writeFeed serializes to a temp file in the target directory and renames it
// into place, so readers never observe a truncated feed.
func (p *Publisher) writeFeed(path string, payload any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".feed-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp feed file: %w", err)
	}
	tmpName := tmp.Name()

	encoder := json.NewEncoder(tmp)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to encode feed %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp feed file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish feed %s: %w", filepath.Base(path), err)
	}

	p.logger.Debug("feed written", "path", path)
	return nil
}
