// ABOUTME: This file detects monotonous LLM scoring via a sliding pattern ring
// ABOUTME: Signals a retry on exactly the second identical score pattern
package service

import (
	"log/slog"
	"sync"

	"github.com/meron14725/note-columns-post-bot/models"
)

const patternRingCapacity = 20

type patternEntry struct {
	articleID     string
	pattern       string
	total         int
	summaryPrefix string
}

// DuplicateDetector keeps the most recent score patterns in a FIFO ring.
// The ring is per process and not persisted across runs.
type DuplicateDetector struct {
	mu     sync.Mutex
	ring   []patternEntry
	logger *slog.Logger
}

func NewDuplicateDetector(logger *slog.Logger) *DuplicateDetector {
	return &DuplicateDetector{
		ring:   make([]patternEntry, 0, patternRingCapacity),
		logger: logger,
	}
}

// Observe records the result's pattern and reports whether a retry
// evaluation should be attempted. Retry is requested on exactly the second
// occurrence within the ring; three or more occurrences are logged as an
// anomaly without requesting another retry.
func (d *DuplicateDetector) Observe(articleID string, result *models.AIEvaluationResult) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	pattern := result.ScorePattern()
	entry := patternEntry{
		articleID:     articleID,
		pattern:       pattern,
		total:         result.TotalScore,
		summaryPrefix: truncateRunes(result.AISummary, 20),
	}

	if len(d.ring) >= patternRingCapacity {
		d.ring = d.ring[1:]
	}
	d.ring = append(d.ring, entry)

	count := 0
	for _, e := range d.ring {
		if e.pattern == pattern {
			count++
		}
	}

	switch {
	case count == 2:
		d.logger.Warn("duplicate score pattern detected, retry requested",
			"article_id", articleID,
			"pattern", pattern)
		return true
	case count >= 3:
		d.logger.Error("critical: score pattern repeating despite retry",
			"article_id", articleID,
			"pattern", pattern,
			"occurrences", count)
	}
	return false
}
