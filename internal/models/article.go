package models

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// BilingualSummary is the two-language digest generated for one article.
type BilingualSummary struct {
	Chinese string `json:"chinese"`
	English string `json:"english"`
}

// Article is one news item flowing through the aggregation pipeline. It is
// created at fetch time and mutated in place as content, keywords, and the
// summary are filled in.
type Article struct {
	Title       string            `json:"title"`
	Link        string            `json:"link"`
	Source      string            `json:"source"`
	Description string            `json:"description"`
	Content     string            `json:"content"`
	Keywords    []string          `json:"keywords,omitempty"`
	Summary     *BilingualSummary `json:"bilingual_summary,omitempty"`
	PublishedAt time.Time         `json:"published_at,omitempty"`
}

// DedupeKey identifies an article by title and source; articles sharing a
// key are the same story regardless of other field differences.
func (a *Article) DedupeKey() string {
	sum := md5.Sum([]byte(a.Title + "_" + a.Source))
	return hex.EncodeToString(sum[:])
}
