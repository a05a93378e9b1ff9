// Package cmd contains the CLI entry for the daily batch pipeline
package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meron14725/note-columns-post-bot/batch"
	"github.com/meron14725/note-columns-post-bot/config"
	"github.com/meron14725/note-columns-post-bot/driver"
	"github.com/meron14725/note-columns-post-bot/logger"
	"github.com/meron14725/note-columns-post-bot/publisher"
	"github.com/meron14725/note-columns-post-bot/ratelimit"
	"github.com/meron14725/note-columns-post-bot/repository"
	"github.com/meron14725/note-columns-post-bot/service"
)

// Source platform ceilings. The LLM minute ceiling comes from configuration;
// its day cap matches the provider's free tier.
const (
	platformPerSecond = 2
	platformPerMinute = 60
	platformPerDay    = 5000
	llmPerDay         = 14400
)

var (
	jsonOnly   bool
	categories []string
	limit      int
)

var rootCmd = &cobra.Command{
	Use:   "note-columns-post-bot",
	Short: "Collects, scores and publishes note.com column articles",
	Long: `note-columns-post-bot runs the daily content curation batch:
it discovers recent articles per configured category, fetches each
article's detail, scores it with an LLM and regenerates the static
JSON feeds consumed by the website.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

// Execute runs the root command with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.Flags().BoolVar(&jsonOnly, "json-only", false, "regenerate JSON feeds from stored data without collecting")
	rootCmd.Flags().StringSliceVar(&categories, "categories", nil, "restrict processing to these categories")
	rootCmd.Flags().IntVar(&limit, "limit", 0, "process at most this many pending articles (0 = no limit)")
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, closeLog, err := logger.Init(logger.Options{
		Level:    cfg.App.LogLevel,
		FilePath: cfg.App.LogFilePath,
		Service:  "note-columns-post-bot",
	})
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := repository.Open(cfg.App.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	governor := ratelimit.NewGovernor(log)
	governor.AddService(service.ServiceSourcePlatform, ratelimit.Limit{
		RequestsPerSecond: platformPerSecond,
		RequestsPerMinute: platformPerMinute,
		RequestsPerDay:    platformPerDay,
	})
	governor.AddService(service.ServiceLLM, ratelimit.Limit{
		RequestsPerMinute: cfg.Prompts.RateLimit.RequestsPerMinute,
		RequestsPerDay:    llmPerDay,
	})

	httpClient := &http.Client{
		Timeout: time.Duration(cfg.URLs.CollectionSettings.TimeoutSeconds) * time.Second,
	}

	session := service.NewSession(httpClient, log)
	collector := service.NewListCollector(httpClient, session, governor,
		cfg.URLs.CollectionURLs, cfg.URLs.CollectionSettings, log)
	fetcher := service.NewDetailFetcher(httpClient, governor, log)

	chat := driver.NewChatClient(driver.DefaultChatBaseURL, cfg.App.LLMAPIKey, log)
	detector := service.NewDuplicateDetector(log)
	evaluator := service.NewEvaluator(chat, governor, detector, cfg.Prompts, log)

	refs := repository.NewArticleReferenceRepository(db, log)
	articles := repository.NewArticleRepository(db, log)
	evals := repository.NewEvaluationRepository(db, log)
	pub := publisher.New(articles, evals, cfg.App.OutputDir, configCategories(cfg), log)

	processor := batch.NewProcessor(cfg, collector, fetcher, evaluator,
		refs, articles, evals, pub, log)

	return processor.Run(ctx, batch.Options{
		JSONOnly:   jsonOnly,
		Categories: categories,
		Limit:      limit,
	})
}

// configCategories returns the distinct categories in configuration order.
func configCategories(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var result []string
	for _, source := range cfg.URLs.CollectionURLs {
		if seen[source.Category] {
			continue
		}
		seen[source.Category] = true
		result = append(result, source.Category)
	}
	return result
}
