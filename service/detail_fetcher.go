// ABOUTME: This file implements phase-2 fetching of a single article's detail
// ABOUTME: Prefers the page's inline state blob, falling back to HTML field resolution
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/meron14725/note-columns-post-bot/models"
	"github.com/meron14725/note-columns-post-bot/ratelimit"
)

var titleAuthorSuffix = regexp.MustCompile(`｜[^｜]+$`)

type DetailFetcher struct {
	client   *http.Client
	governor *ratelimit.Governor
	logger   *slog.Logger
	baseURL  string
	now      func() time.Time
}

func NewDetailFetcher(client *http.Client, governor *ratelimit.Governor, logger *slog.Logger) *DetailFetcher {
	return &DetailFetcher{
		client:   client,
		governor: governor,
		logger:   logger,
		baseURL:  "https://" + models.NoteHost,
		now:      time.Now,
	}
}

// FetchDetail returns the full detail record for one article. Paid or
// unreadable articles return ErrPaidContent and are never persisted.
// ContentFull on the returned record exists only in memory.
func (f *DetailFetcher) FetchDetail(ctx context.Context, urlname, key string) (*models.DetailRecord, error) {
	if err := f.governor.Await(ctx, ServiceSourcePlatform); err != nil {
		return nil, err
	}

	pageURL := fmt.Sprintf("%s/%s/n/%s", f.baseURL, urlname, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create detail request: %w", err)
	}
	applyBrowserHeaders(req)
	req.Header.Set("Referer", fmt.Sprintf("%s/%s", f.baseURL, urlname))

	resp, err := f.client.Do(req)
	f.governor.Record(ServiceSourcePlatform)
	if err != nil {
		return nil, fmt.Errorf("detail request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: "detail fetch failed"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read detail page: %w", err)
	}
	html := string(body)

	record := f.detailFromInitialState(html, key)
	if record == nil {
		record, err = f.detailFromHTML(html, urlname, key)
		if err != nil {
			return nil, err
		}
	}

	if record.Price > 0 || !record.CanRead {
		f.logger.Info("skipping paid or unreadable article",
			"urlname", urlname, "key", key, "price", record.Price)
		return nil, ErrPaidContent
	}

	return record, nil
}

// detailFromInitialState locates the note matching key inside the page's
// state blob. Returns nil when the blob or the note is absent.
func (f *DetailFetcher) detailFromInitialState(html, key string) *models.DetailRecord {
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

	note := noteFromState(state, key)
	if note == nil {
		return nil
	}

	canRead := note.Readable()

	published, ok := note.PublishedAt()
	if !ok {
		published = f.now().UTC()
	}

	fullBody := ""
	preview := ""
	if note.Body != "" {
		fullBody = stripTags(note.Body)
		preview = truncateRunes(fullBody, PreviewLength)
	} else if note.Description != "" {
		preview = truncateRunes(stripTags(note.Description), PreviewLength)
	}

	noteType := note.Type
	if noteType == "" {
		noteType = "TextNote"
	}

	author := note.User.Nickname
	if author == "" {
		author = note.User.Name
	}

	return &models.DetailRecord{
		Key:            key,
		Title:          note.Name,
		Author:         author,
		Thumbnail:      note.Thumbnail(),
		PublishedAt:    published,
		NoteType:       noteType,
		LikeCount:      note.Likes(),
		CommentCount:   note.CommentCount,
		Price:          note.Price,
		CanRead:        canRead,
		ContentPreview: preview,
		ContentFull:    fullBody,
	}
}

func noteFromState(state map[string]json.RawMessage, key string) *models.NoteItem {
	if raw, ok := state["note"]; ok {
		var note models.NoteItem
		if err := json.Unmarshal(raw, &note); err == nil && (note.Key == "" || note.Key == key) {
			return &note
		}
	}

	if raw, ok := state["notes"]; ok {
		var notes map[string]models.NoteItem
		if err := json.Unmarshal(raw, &notes); err == nil {
			if note, ok := notes[key]; ok {
				return &note
			}
		}
	}

	if raw, ok := state["currentNote"]; ok {
		var note models.NoteItem
		if err := json.Unmarshal(raw, &note); err == nil {
			return &note
		}
	}

	return nil
}

// detailFromHTML resolves each field through a fallback chain of selectors.
// Price and readability are unknown at this level, so the article is treated
// as free and readable.
func (f *DetailFetcher) detailFromHTML(html, urlname, key string) (*models.DetailRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse detail page: %w", err)
	}

	ogTitle, _ := doc.Find(`meta[property="og:title"]`).Attr("content")

	title := titleAuthorSuffix.ReplaceAllString(ogTitle, "")
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = titleAuthorSuffix.ReplaceAllString(strings.TrimSpace(doc.Find("title").First().Text()), "")
	}

	author := authorFromPage(doc, ogTitle, urlname)

	thumbnail, _ := doc.Find(`meta[property="og:image"]`).Attr("content")

	published := f.now().UTC()
	if datetime, ok := doc.Find("time").First().Attr("datetime"); ok {
		if t, ok := models.ParseNoteTime(datetime); ok {
			published = t
		}
	} else if content, ok := doc.Find(`meta[property="article:published_time"]`).Attr("content"); ok {
		if t, ok := models.ParseNoteTime(content); ok {
			published = t
		}
	}

	preview, fullBody := bodyFromPage(doc)

	return &models.DetailRecord{
		Key:            key,
		Title:          title,
		Author:         author,
		Thumbnail:      thumbnail,
		PublishedAt:    published,
		NoteType:       "TextNote",
		CanRead:        true,
		ContentPreview: preview,
		ContentFull:    fullBody,
	}, nil
}

func authorFromPage(doc *goquery.Document, ogTitle, urlname string) string {
	if m := titleAuthorSuffix.FindString(ogTitle); m != "" {
		return strings.TrimPrefix(m, "｜")
	}

	// JSON-LD structured data.
	author := ""
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data struct {
			Author json.RawMessage `json:"author"`
		}
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil || data.Author == nil {
			return true
		}

		var name string
		if err := json.Unmarshal(data.Author, &name); err == nil && name != "" {
			author = name
			return false
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data.Author, &obj); err == nil && obj.Name != "" {
			author = obj.Name
			return false
		}
		return true
	})
	if author != "" {
		return author
	}

	if content, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok && content != "" {
		return content
	}
	if content, ok := doc.Find(`meta[property="article:author"]`).Attr("content"); ok && content != "" {
		return content
	}

	return urlname
}

var bodySelectors = []string{
	"div.note-common-styles__textnote-body",
	`div[class*="textnote-body"]`,
	`div[class*="content"]`,
	`div[class*="article-body"]`,
	"main",
	"article",
}

func bodyFromPage(doc *goquery.Document) (preview, fullBody string) {
	for _, selector := range bodySelectors {
		selection := doc.Find(selector).First()
		if selection.Length() == 0 {
			continue
		}
		text := collapseWhitespace(selection.Text())
		if text == "" {
			continue
		}
		return truncateRunes(text, PreviewLength), text
	}

	if content, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && content != "" {
		return truncateRunes(collapseWhitespace(content), PreviewLength), ""
	}
	if content, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok && content != "" {
		return truncateRunes(collapseWhitespace(content), PreviewLength), ""
	}
	return "", ""
}
