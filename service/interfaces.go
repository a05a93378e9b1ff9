// ABOUTME: This file defines the service interfaces consumed by the orchestrator
// ABOUTME: Implementations are injected through constructors
package service

import (
	"context"

	"github.com/meron14725/note-columns-post-bot/driver"
	"github.com/meron14725/note-columns-post-bot/models"
)

// ChatCompleter is the LLM transport used by the evaluator.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request driver.ChatCompletionRequest) (string, error)
}

// Collector discovers article references for all configured categories.
type Collector interface {
	CollectReferences(ctx context.Context) ([]models.ArticleReference, error)
}

// Fetcher retrieves one article's full detail record.
type Fetcher interface {
	FetchDetail(ctx context.Context, urlname, key string) (*models.DetailRecord, error)
}

// ArticleEvaluator scores an article. The full body is supplied by the
// caller and never persisted.
type ArticleEvaluator interface {
	EvaluateWithContent(ctx context.Context, article *models.Article, fullBody string) (*models.Evaluation, error)
}
