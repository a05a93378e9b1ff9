// ABOUTME: This file implements the daily batch orchestrator
// ABOUTME: Collect, fetch, evaluate and publish with per-item error isolation
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meron14725/note-columns-post-bot/config"
	"github.com/meron14725/note-columns-post-bot/models"
	"github.com/meron14725/note-columns-post-bot/publisher"
	"github.com/meron14725/note-columns-post-bot/repository"
	"github.com/meron14725/note-columns-post-bot/retry"
	"github.com/meron14725/note-columns-post-bot/service"
)

const progressInterval = 10

// Options narrows one batch run. Zero value means a full run.
type Options struct {
	JSONOnly   bool
	Categories []string
	Limit      int
}

type Processor struct {
	cfg       *config.Config
	collector service.Collector
	fetcher   service.Fetcher
	evaluator service.ArticleEvaluator
	refs      *repository.ArticleReferenceRepository
	articles  *repository.ArticleRepository
	evals     *repository.EvaluationRepository
	publisher *publisher.Publisher
	retrier   *retry.Retrier
	logger    *slog.Logger

	sleep func(context.Context, time.Duration) error
}

func NewProcessor(
	cfg *config.Config,
	collector service.Collector,
	fetcher service.Fetcher,
	evaluator service.ArticleEvaluator,
	refs *repository.ArticleReferenceRepository,
	articles *repository.ArticleRepository,
	evals *repository.EvaluationRepository,
	pub *publisher.Publisher,
	logger *slog.Logger,
) *Processor {
	maxAttempts := cfg.URLs.CollectionSettings.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	retrier := retry.New(retry.Config{
		MaxAttempts:   maxAttempts,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}, service.IsRetryableError, logger)

	return &Processor{
		cfg:       cfg,
		collector: collector,
		fetcher:   fetcher,
		evaluator: evaluator,
		refs:      refs,
		articles:  articles,
		evals:     evals,
		publisher: pub,
		retrier:   retrier,
		logger:    logger,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes one batch pass. Item-level failures are logged and skipped;
// only context cancellation or a broken store aborts the run.
func (p *Processor) Run(ctx context.Context, opts Options) error {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	start := time.Now()

	logger.Info("batch run starting",
		"json_only", opts.JSONOnly,
		"categories", opts.Categories,
		"limit", opts.Limit)

	if !opts.JSONOnly {
		if err := p.collect(ctx, logger); err != nil {
			return err
		}
		if err := p.process(ctx, logger, opts); err != nil {
			return err
		}
		p.logSummary(logger)
	}

	if err := p.publisher.PublishAll(); err != nil {
		return fmt.Errorf("feed publication failed: %w", err)
	}

	logger.Info("batch run finished", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (p *Processor) collect(ctx context.Context, logger *slog.Logger) error {
	refs, err := p.collector.CollectReferences(ctx)
	if err != nil {
		return fmt.Errorf("reference collection aborted: %w", err)
	}

	saved, err := p.refs.SaveMany(refs)
	if err != nil {
		return fmt.Errorf("failed to persist references: %w", err)
	}

	logger.Info("collection phase complete", "discovered", len(refs), "saved", saved)
	return nil
}

func (p *Processor) process(ctx context.Context, logger *slog.Logger, opts Options) error {
	pending, err := p.refs.Unprocessed(0)
	if err != nil {
		return err
	}
	pending = filterReferences(pending, opts)

	logger.Info("processing phase starting", "pending", len(pending))

	processed, failed, excluded := 0, 0, 0
	for i, ref := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.processOne(ctx, ref)
		switch kind := service.Classify(err); {
		case kind == service.KindPermanentExclusion:
			excluded++
		case err != nil:
			failed++
			logger.Error("failed to process reference",
				"article_id", ref.ArticleID(),
				"category", ref.Category,
				"kind", kind.String(),
				"error", err)
		default:
			processed++
		}

		if (i+1)%progressInterval == 0 {
			logger.Info("processing progress",
				"done", i+1,
				"total", len(pending),
				"failed", failed)
		}

		if err := p.sleep(ctx, p.requestDelay()); err != nil {
			return err
		}
	}

	logger.Info("processing phase complete",
		"processed", processed,
		"failed", failed,
		"excluded", excluded)
	return nil
}

// processOne runs a single reference through fetch, evaluate and commit.
// The full article body exists only on the stack of this call.
func (p *Processor) processOne(ctx context.Context, ref models.ArticleReference) error {
	// Metadata-only mode evaluates from the reference alone.
	detail := &models.DetailRecord{Key: ref.Key, CanRead: true}

	if p.cfg.URLs.CollectionSettings.FetchArticleDetails {
		err := p.retrier.Do(ctx, func() error {
			var fetchErr error
			detail, fetchErr = p.fetcher.FetchDetail(ctx, ref.Urlname, ref.Key)
			return fetchErr
		})
		if errors.Is(err, service.ErrPaidContent) {
			// Permanent exclusion: never fetched again, nothing persisted.
			if markErr := p.refs.MarkProcessed(ref.Key, ref.Urlname); markErr != nil {
				return &service.StorageError{Err: markErr}
			}
			return err
		}
		if err != nil {
			return fmt.Errorf("detail fetch failed: %w", err)
		}
	}

	article := articleFromDetail(ref, detail)
	if err := p.articles.Save(article); err != nil {
		// The reference stays unprocessed so the next run retries it.
		return &service.StorageError{Err: err}
	}

	evaluation, err := p.evaluator.EvaluateWithContent(ctx, article, detail.ContentFull)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if err := p.evals.Save(evaluation); err != nil {
		return &service.StorageError{Err: err}
	}
	if err := p.articles.MarkEvaluated(article.ID); err != nil {
		return &service.StorageError{Err: err}
	}
	if err := p.refs.MarkProcessed(ref.Key, ref.Urlname); err != nil {
		return &service.StorageError{Err: err}
	}
	return nil
}

func articleFromDetail(ref models.ArticleReference, detail *models.DetailRecord) *models.Article {
	title := detail.Title
	if title == "" {
		title = ref.Title
	}
	author := detail.Author
	if author == "" {
		author = ref.Author
	}
	thumbnail := detail.Thumbnail
	if thumbnail == "" {
		thumbnail = ref.Thumbnail
	}
	publishedAt := detail.PublishedAt
	if publishedAt.IsZero() && ref.PublishedAt != nil {
		publishedAt = *ref.PublishedAt
	}

	return &models.Article{
		ID:             ref.ArticleID(),
		Title:          title,
		URL:            ref.ArticleURL(),
		Thumbnail:      thumbnail,
		PublishedAt:    publishedAt,
		Author:         author,
		ContentPreview: detail.ContentPreview,
		Category:       ref.Category,
		CollectedAt:    ref.CollectedAt,
	}
}

func filterReferences(refs []models.ArticleReference, opts Options) []models.ArticleReference {
	if len(opts.Categories) > 0 {
		wanted := make(map[string]bool, len(opts.Categories))
		for _, category := range opts.Categories {
			wanted[category] = true
		}
		filtered := refs[:0]
		for _, ref := range refs {
			if wanted[ref.Category] {
				filtered = append(filtered, ref)
			}
		}
		refs = filtered
	}

	if opts.Limit > 0 && len(refs) > opts.Limit {
		refs = refs[:opts.Limit]
	}
	return refs
}

func (p *Processor) logSummary(logger *slog.Logger) {
	stats, err := p.evals.Statistics()
	if err != nil {
		logger.Warn("failed to compute evaluation statistics", "error", err)
		return
	}
	counts, err := p.refs.CountsByCategory()
	if err != nil {
		logger.Warn("failed to count references by category", "error", err)
		return
	}

	logger.Info("evaluation summary",
		"count", stats.Count,
		"average", fmt.Sprintf("%.1f", stats.Average),
		"min", stats.Min,
		"max", stats.Max,
		"high", stats.High,
		"medium", stats.Medium,
		"low", stats.Low,
		"references_by_category", counts)
}

func (p *Processor) requestDelay() time.Duration {
	return time.Duration(p.cfg.URLs.CollectionSettings.RequestDelaySeconds * float64(time.Second))
}
