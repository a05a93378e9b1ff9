// ABOUTME: This file implements phase-1 collection of article references
// ABOUTME: Paginates the platform list API per category with an HTML state-blob fallback
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meron14725/note-columns-post-bot/config"
	"github.com/meron14725/note-columns-post-bot/models"
	"github.com/meron14725/note-columns-post-bot/ratelimit"
)

// Service names registered with the rate governor.
const (
	ServiceSourcePlatform = "source_platform"
	ServiceLLM            = "llm_service"
)

const (
	rateLimitedWait = 30 * time.Second
	serverErrorWait = 10 * time.Second
)

type ListCollector struct {
	client   *http.Client
	session  *Session
	governor *ratelimit.Governor
	sources  []config.CollectionURL
	settings config.CollectionSettings
	logger   *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewListCollector(
	client *http.Client,
	session *Session,
	governor *ratelimit.Governor,
	sources []config.CollectionURL,
	settings config.CollectionSettings,
	logger *slog.Logger,
) *ListCollector {
	return &ListCollector{
		client:   client,
		session:  session,
		governor: governor,
		sources:  sources,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CollectReferences enumerates recent article references across all
// configured sources. Failures are per-category; a broken source never
// aborts the pass.
func (c *ListCollector) CollectReferences(ctx context.Context) ([]models.ArticleReference, error) {
	c.logger.Info("starting reference collection", "sources", len(c.sources))

	var merged []models.ArticleReference
	seen := make(map[string]bool)

	for _, source := range c.sources {
		if err := ctx.Err(); err != nil {
			return merged, err
		}

		refs, err := c.collectSource(ctx, source)
		if err != nil {
			c.logger.Error("failed to collect source",
				"source", source.Name,
				"category", source.Category,
				"error", err)
			continue
		}

		added := 0
		for _, ref := range refs {
			if seen[ref.Key] {
				continue
			}
			seen[ref.Key] = true
			merged = append(merged, ref)
			added++
		}

		c.logger.Info("collected source",
			"source", source.Name,
			"category", source.Category,
			"references", added)

		if err := c.sleep(ctx, c.requestDelay()); err != nil {
			return merged, err
		}
	}

	c.logger.Info("reference collection finished", "total", len(merged))
	return merged, nil
}

func (c *ListCollector) collectSource(ctx context.Context, source config.CollectionURL) ([]models.ArticleReference, error) {
	if err := c.session.Ensure(ctx, source.URL); err != nil {
		return nil, err
	}

	if label, ok := interestsLabel(source.URL); ok {
		return c.collectFromAPI(ctx, source, label)
	}
	return c.collectFromHTML(ctx, source)
}

// interestsLabel extracts the decoded label from an interests URL.
func interestsLabel(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	const prefix = "/interests/"
	if !strings.HasPrefix(parsed.Path, prefix) {
		return "", false
	}
	label := strings.TrimPrefix(parsed.Path, prefix)
	if i := strings.Index(label, "/"); i >= 0 {
		label = label[:i]
	}
	if decoded, err := url.PathUnescape(label); err == nil {
		label = decoded
	}
	return label, label != ""
}

// collectFromAPI paginates the JSON list endpoint for one interests label.
func (c *ListCollector) collectFromAPI(ctx context.Context, source config.CollectionURL, label string) ([]models.ArticleReference, error) {
	base, err := url.Parse(source.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}

	var refs []models.ArticleReference
	encodedLabel := url.QueryEscape(label)
	maxPages := c.settings.MaxPagesPerCategory
	retriedServerError := false

	for page := 1; page <= maxPages; {
		if err := c.governor.Await(ctx, ServiceSourcePlatform); err != nil {
			return refs, err
		}

		apiURL := fmt.Sprintf("%s://%s/api/v3/mkit_layouts/json?context=top_keyword&page=%d&args[label_name]=%s",
			base.Scheme, base.Host, page, encodedLabel)

		resp, err := c.apiGet(ctx, apiURL, base, encodedLabel)
		c.governor.Record(ServiceSourcePlatform)
		if err != nil {
			return refs, err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			c.logger.Warn("list api rate limited, waiting", "page", page, "wait", rateLimitedWait)
			if err := c.sleep(ctx, rateLimitedWait); err != nil {
				return refs, err
			}
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			if retriedServerError {
				c.logger.Warn("list api server error twice, giving up category",
					"page", page, "status", resp.StatusCode)
				return refs, nil
			}
			retriedServerError = true
			c.logger.Warn("list api server error, retrying page",
				"page", page, "status", resp.StatusCode)
			if err := c.sleep(ctx, serverErrorWait); err != nil {
				return refs, err
			}
			continue

		case resp.StatusCode != http.StatusOK:
			resp.Body.Close()
			c.logger.Warn("list api client error, stopping category",
				"page", page, "status", resp.StatusCode)
			return refs, nil
		}

		var listResp models.NoteListResponse
		err = json.NewDecoder(resp.Body).Decode(&listResp)
		resp.Body.Close()
		if err != nil {
			return refs, fmt.Errorf("failed to decode list response: %w", err)
		}

		pageRefs, sawOld := c.referencesFromNotes(notesFromSections(listResp.Data.Sections), source.Category)
		refs = append(refs, pageRefs...)

		c.logger.Debug("fetched list page",
			"category", source.Category,
			"page", page,
			"references", len(pageRefs))

		if listResp.Data.IsLast {
			break
		}
		if sawOld && c.settings.StopAfterOldArticles {
			c.logger.Debug("old articles reached, stopping pagination",
				"category", source.Category, "page", page)
			break
		}

		if err := c.sleep(ctx, c.requestDelay()); err != nil {
			return refs, err
		}
		page++
		retriedServerError = false
	}

	return refs, nil
}

func (c *ListCollector) apiGet(ctx context.Context, apiURL string, base *url.URL, encodedLabel string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create list request: %w", err)
	}

	applyBrowserHeaders(req)
	req.Header.Set("X-Note-Client-Code", c.session.ClientCode())
	req.Header.Set("Referer", fmt.Sprintf("%s://%s/interests/%s", base.Scheme, base.Host, encodedLabel))
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	if token := c.session.XSRFToken(); token != "" {
		req.Header.Set("X-Xsrf-Token", token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list request failed: %w", err)
	}
	return resp, nil
}

// collectFromHTML parses the landing page's inline state blob for note items.
// Used for sources that are not interests URLs.
func (c *ListCollector) collectFromHTML(ctx context.Context, source config.CollectionURL) ([]models.ArticleReference, error) {
	maxRetries := c.settings.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return nil, err
			}
		}

		if err := c.governor.Await(ctx, ServiceSourcePlatform); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create page request: %w", err)
		}
		applyBrowserHeaders(req)

		resp, err := c.client.Do(req)
		c.governor.Record(ServiceSourcePlatform)
		if err != nil {
			c.logger.Warn("page fetch failed", "url", source.URL, "error", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.logger.Warn("page fetch returned error status",
				"url", source.URL, "status", resp.StatusCode)
			continue
		}
		if readErr != nil {
			c.logger.Warn("page read failed", "url", source.URL, "error", readErr)
			continue
		}

		notes := notesFromInitialState(string(body))
		if len(notes) == 0 {
			c.logger.Warn("no notes found in landing page", "url", source.URL)
			return nil, nil
		}

		refs, _ := c.referencesFromNotes(notes, source.Category)
		return refs, nil
	}

	return nil, fmt.Errorf("failed to fetch %s after %d attempts", source.URL, maxRetries)
}

func notesFromSections(sections []models.NoteListSection) []models.NoteItem {
	var notes []models.NoteItem
	for _, section := range sections {
		notes = append(notes, section.Notes...)
	}
	return notes
}

// referencesFromNotes converts note items into references, applying the
// recency window. sawOld reports whether any item fell outside the window,
// which drives the stop-early optimization.
func (c *ListCollector) referencesFromNotes(notes []models.NoteItem, category string) (refs []models.ArticleReference, sawOld bool) {
	threshold := c.settings.OldArticleThresholdDays
	if threshold <= 0 {
		threshold = 1
	}
	cutoff := c.now().UTC().AddDate(0, 0, -threshold)

	for _, note := range notes {
		if note.Key == "" || note.User.Urlname == "" {
			continue
		}

		published, ok := note.PublishedAt()
		if !ok {
			continue
		}
		if published.Before(cutoff) {
			sawOld = true
			continue
		}

		author := note.User.Nickname
		if author == "" {
			author = note.User.Name
		}

		refs = append(refs, models.ArticleReference{
			Key:         note.Key,
			Urlname:     note.User.Urlname,
			Category:    category,
			Title:       note.Name,
			Author:      author,
			Thumbnail:   note.Thumbnail(),
			PublishedAt: &published,
			CollectedAt: c.now().UTC(),
		})
	}
	return refs, sawOld
}

func (c *ListCollector) requestDelay() time.Duration {
	return time.Duration(c.settings.RequestDelaySeconds * float64(time.Second))
}

const initialStateMarker = "window.__INITIAL_STATE__"

// notesFromInitialState pulls note items out of the page's inline state
// blob. The blob's layout varies by page type, so several locations are
// probed.
func notesFromInitialState(html string) []models.NoteItem {
	start := strings.Index(html, initialStateMarker)
	if start < 0 {
		return nil
	}
	rest := html[start+len(initialStateMarker):]
	if i := strings.Index(rest, "="); i >= 0 {
		rest = rest[i+1:]
	}
	end := strings.Index(rest, "</script>")
	if end < 0 {
		return nil
	}
	blob := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest[:end]), ";"))

	var state map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil
	}

	if raw, ok := state["notes"]; ok {
		if notes := decodeNoteCollection(raw); len(notes) > 0 {
			return notes
		}
	}

	if raw, ok := state["topContents"]; ok {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(raw, &top); err == nil {
			if inner, ok := top["notes"]; ok {
				if notes := decodeNoteCollection(inner); len(notes) > 0 {
					return notes
				}
			}
		}
	}

	if raw, ok := state["searchResults"]; ok {
		var results struct {
			Contents []models.NoteItem `json:"contents"`
		}
		if err := json.Unmarshal(raw, &results); err == nil {
			return results.Contents
		}
	}

	return nil
}

// decodeNoteCollection accepts either a list of notes or an id-keyed map.
func decodeNoteCollection(raw json.RawMessage) []models.NoteItem {
	var list []models.NoteItem
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var dict map[string]models.NoteItem
	if err := json.Unmarshal(raw, &dict); err == nil {
		notes := make([]models.NoteItem, 0, len(dict))
		for _, note := range dict {
			notes = append(notes, note)
		}
		return notes
	}
	return nil
}
