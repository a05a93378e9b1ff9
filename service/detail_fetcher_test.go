// ABOUTME: This file contains tests for phase-2 detail fetching
// ABOUTME: Covers state blob extraction, paid exclusion and HTML fallbacks
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meron14725/note-columns-post-bot/ratelimit"
)

func newTestFetcher(serverURL string) *DetailFetcher {
	f := NewDetailFetcher(http.DefaultClient, ratelimit.NewGovernor(slog.Default()), slog.Default())
	f.baseURL = serverURL
	return f
}

func detailServer(t *testing.T, html string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/writer/n/abc", r.URL.Path)
		fmt.Fprint(w, html)
	}))
	t.Cleanup(server.Close)
	return server
}

func statePage(t *testing.T, note map[string]any) string {
	t.Helper()
	blob, err := json.Marshal(map[string]any{"note": note})
	require.NoError(t, err)
	return fmt.Sprintf(`<html><script>window.__INITIAL_STATE__ = %s;</script></html>`, blob)
}

func TestDetailFetcher_FromStateBlob(t *testing.T) {
	body := "<p>これは本文です。</p><p>" + strings.Repeat("あ", 300) + "</p>"
	server := detailServer(t, statePage(t, map[string]any{
		"key":          "abc",
		"name":         "記事タイトル",
		"user":         map[string]any{"nickname": "書き手", "urlname": "writer"},
		"publish_at":   "2026-08-20T10:00:00+09:00",
		"eyecatch_url": "https://img.example/abc",
		"type":         "TextNote",
		"likeCount":    42,
		"commentCount": 3,
		"price":        0,
		"can_read":     true,
		"body":         body,
	}))

	f := newTestFetcher(server.URL)
	record, err := f.FetchDetail(context.Background(), "writer", "abc")
	require.NoError(t, err)

	assert.Equal(t, "abc", record.Key)
	assert.Equal(t, "記事タイトル", record.Title)
	assert.Equal(t, "書き手", record.Author)
	assert.Equal(t, "https://img.example/abc", record.Thumbnail)
	assert.Equal(t, 42, record.LikeCount)
	assert.Equal(t, 3, record.CommentCount)
	assert.True(t, record.CanRead)

	// Timestamps are stored in UTC.
	assert.Equal(t, "2026-08-20T01:00:00Z", record.PublishedAt.Format("2006-01-02T15:04:05Z"))

	// Preview is a rune-bounded prefix of the stripped body.
	assert.Equal(t, PreviewLength, utf8.RuneCountInString(record.ContentPreview))
	assert.NotContains(t, record.ContentPreview, "<p>")
	assert.True(t, strings.HasPrefix(record.ContentFull, "これは本文です。"))
	assert.Greater(t, utf8.RuneCountInString(record.ContentFull), PreviewLength)
}

func TestDetailFetcher_PaidContentIsExcluded(t *testing.T) {
	tests := map[string]map[string]any{
		"priced article": {
			"key": "abc", "name": "有料記事", "price": 500, "can_read": true,
			"publish_at": "2026-08-20T10:00:00Z", "body": "有料部分",
		},
		"unreadable article": {
			"key": "abc", "name": "読めない記事", "price": 0, "can_read": false,
			"publish_at": "2026-08-20T10:00:00Z", "body": "続きはメンバー限定",
		},
	}

	for name, note := range tests {
		t.Run(name, func(t *testing.T) {
			server := detailServer(t, statePage(t, note))
			f := newTestFetcher(server.URL)

			record, err := f.FetchDetail(context.Background(), "writer", "abc")
			require.ErrorIs(t, err, ErrPaidContent)
			assert.Nil(t, record)
		})
	}
}

func TestDetailFetcher_HTMLFallback(t *testing.T) {
	html := `<html><head>
<meta property="og:title" content="タイトルのみ｜著者名">
<meta property="og:image" content="https://img.example/fallback">
<meta property="article:published_time" content="2026-08-19T12:00:00Z">
</head><body>
<div class="note-common-styles__textnote-body">本文の段落です。   改行と  空白は畳まれます。</div>
</body></html>`

	server := detailServer(t, html)
	f := newTestFetcher(server.URL)

	record, err := f.FetchDetail(context.Background(), "writer", "abc")
	require.NoError(t, err)

	assert.Equal(t, "タイトルのみ", record.Title)
	assert.Equal(t, "著者名", record.Author)
	assert.Equal(t, "https://img.example/fallback", record.Thumbnail)
	assert.Equal(t, "本文の段落です。 改行と 空白は畳まれます。", record.ContentFull)
	assert.True(t, record.CanRead)
	assert.Equal(t, "2026-08-19T12:00:00Z", record.PublishedAt.Format("2006-01-02T15:04:05Z"))
}

func TestDetailFetcher_HTMLFallbackAuthorChain(t *testing.T) {
	tests := map[string]struct {
		head       string
		wantAuthor string
	}{
		"json-ld author object": {
			head: `<script type="application/ld+json">{"author": {"name": "構造化著者"}}</script>`,
			wantAuthor: "構造化著者",
		},
		"json-ld author string": {
			head: `<script type="application/ld+json">{"author": "文字列著者"}</script>`,
			wantAuthor: "文字列著者",
		},
		"meta author": {
			head:       `<meta name="author" content="メタ著者">`,
			wantAuthor: "メタ著者",
		},
		"urlname last resort": {
			head:       ``,
			wantAuthor: "writer",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			html := fmt.Sprintf(`<html><head><meta property="og:title" content="無署名タイトル">%s</head>
<body><h1>無署名タイトル</h1><article>本文テキスト</article></body></html>`, tt.head)

			server := detailServer(t, html)
			f := newTestFetcher(server.URL)

			record, err := f.FetchDetail(context.Background(), "writer", "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAuthor, record.Author)
		})
	}
}

func TestDetailFetcher_DescriptionPreviewWhenNoBody(t *testing.T) {
	html := `<html><head>
<meta property="og:title" content="説明だけの記事｜著者">
<meta name="description" content="説明文がプレビューになります。">
</head><body><h1>説明だけの記事</h1></body></html>`

	server := detailServer(t, html)
	f := newTestFetcher(server.URL)

	record, err := f.FetchDetail(context.Background(), "writer", "abc")
	require.NoError(t, err)

	assert.Equal(t, "説明文がプレビューになります。", record.ContentPreview)
	assert.Empty(t, record.ContentFull)
}

func TestDetailFetcher_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL)
	_, err := f.FetchDetail(context.Background(), "writer", "abc")

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.False(t, IsRetryableError(err))
}
