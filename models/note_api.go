package models

import (
	"strings"
	"time"
)

// NoteListResponse is the JSON shape of the source-platform list endpoint
// (GET /api/v3/mkit_layouts/json). The decoder is permissive: optional
// fields may be absent and some fields have alternative spellings across
// page types.
type NoteListResponse struct {
	Data NoteListData `json:"data"`
}

type NoteListData struct {
	IsLast   bool              `json:"isLast"`
	Sections []NoteListSection `json:"sections"`
}

type NoteListSection struct {
	Notes []NoteItem `json:"notes"`
}

// NoteItem is one note entry from either the list API or an inline state
// blob. The state blob uses camelCase variants for several fields.
type NoteItem struct {
	ID           any       `json:"id"` // numeric in the API, string in state blobs
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	User         NoteUser  `json:"user"`
	PublishAt    string    `json:"publish_at"`
	PublishAtAlt string    `json:"publishAt"`
	EyecatchURL  string    `json:"eyecatch_url"`
	Eyecatch     string    `json:"eyecatch"`
	Type         string    `json:"type"`
	LikeCount    int       `json:"like_count"`
	LikeCountAlt int       `json:"likeCount"`
	CommentCount int       `json:"commentCount"`
	Price        int       `json:"price"`
	CanRead      *bool     `json:"can_read"`
	CanReadAlt   *bool     `json:"canRead"`
	IsLiked      bool      `json:"is_liked"`
	Body         string    `json:"body"`
	Description  string    `json:"description"`
}

type NoteUser struct {
	Urlname  string `json:"urlname"`
	Nickname string `json:"nickname"`
	Name     string `json:"name"`
}

// Likes returns whichever like counter variant is populated.
func (n *NoteItem) Likes() int {
	if n.LikeCount > 0 {
		return n.LikeCount
	}
	return n.LikeCountAlt
}

// Thumbnail returns the first populated eyecatch variant.
func (n *NoteItem) Thumbnail() string {
	if n.EyecatchURL != "" {
		return n.EyecatchURL
	}
	return n.Eyecatch
}

// Readable reports whether the note body is accessible. Absent flags mean
// readable.
func (n *NoteItem) Readable() bool {
	if n.CanRead != nil {
		return *n.CanRead
	}
	if n.CanReadAlt != nil {
		return *n.CanReadAlt
	}
	return true
}

// PublishedAt parses whichever publish timestamp variant is present.
// Timestamps without zone information are taken as UTC; zoned values are
// converted to UTC.
func (n *NoteItem) PublishedAt() (time.Time, bool) {
	raw := n.PublishAt
	if raw == "" {
		raw = n.PublishAtAlt
	}
	if raw == "" {
		return time.Time{}, false
	}
	return ParseNoteTime(raw)
}

// ParseNoteTime parses the timestamp formats the platform emits:
// RFC3339 with or without fractional seconds, "Z" suffixed, or naive.
func ParseNoteTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05",
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}

	// Last resort: drop anything past seconds and assume UTC.
	if len(raw) >= 19 {
		if t, err := time.Parse("2006-01-02T15:04:05", raw[:19]); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

// DetailRecord is the transient result of a phase-2 detail fetch. ContentFull
// exists only in memory between the fetch and the evaluation call.
type DetailRecord struct {
	Key            string
	Title          string
	Author         string
	Thumbnail      string
	PublishedAt    time.Time
	NoteType       string
	LikeCount      int
	CommentCount   int
	Price          int
	CanRead        bool
	ContentPreview string
	ContentFull    string
}
