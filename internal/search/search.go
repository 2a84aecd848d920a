// Package search provides full-text search over tabs and spaces, backed by
// Meilisearch with an in-memory fallback when no server is configured.
package search

import (
	"github.com/scottjenson/xe-darc/internal/store"
)

// Record is the data we index for one tab or space.
type Record struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	SpaceID string `json:"spaceId"`
}

// RecordFromDoc extracts the indexable fields of a document.
func RecordFromDoc(doc store.Document) Record {
	return Record{
		ID:      doc.ID,
		Kind:    doc.Kind,
		Title:   doc.Title,
		Name:    doc.Name,
		URL:     doc.URL,
		SpaceID: doc.SpaceID,
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	SpaceID string `json:"spaceId,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterKind    string // empty = tabs and spaces
	FilterSpaceID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push records into a search index.
type Indexer interface {
	Index(rec Record) error
	Delete(id string) error
}
