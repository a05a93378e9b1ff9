package models

import (
	"fmt"
	"time"
)

// NoteHost is the source platform host all article URLs are derived from.
const NoteHost = "note.com"

// ArticleReference is the minimal pointer to a discovered article. Identity
// is the composite (Key, Urlname); everything else is mutable metadata.
type ArticleReference struct {
	Key         string     `db:"key"`
	Urlname     string     `db:"urlname"`
	Category    string     `db:"category"`
	Title       string     `db:"title"`
	Author      string     `db:"author"`
	Thumbnail   string     `db:"thumbnail"`
	PublishedAt *time.Time `db:"published_at"`
	CollectedAt time.Time  `db:"collected_at"`
	IsProcessed bool       `db:"is_processed"`
}

// ArticleID derives the persistent article identifier.
func (r *ArticleReference) ArticleID() string {
	return fmt.Sprintf("%s_%s", r.Key, r.Urlname)
}

// ArticleURL derives the canonical article page URL.
func (r *ArticleReference) ArticleURL() string {
	return fmt.Sprintf("https://%s/%s/n/%s", NoteHost, r.Urlname, r.Key)
}
