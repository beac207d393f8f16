// Package models defines core data structures for articles, sessions, and chat.
package models

// Article is a raw news article handed to the ingestion pipeline.
// Link is the natural key; deduplication upstream is by link only.
type Article struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Content string `json:"content"`
}
