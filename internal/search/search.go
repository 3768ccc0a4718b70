// Package search indexes documents and their discussion comments. Meilisearch
// serves queries while it is healthy; PostgreSQL full-text search covers the
// rest.
package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	Division   string     `json:"division"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request. An empty FilterDivision searches every
// division.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterDivision   string
	FilterDocumentID string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	IndexComment(c CommentRecord) error
	DeleteDocument(id string) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Division string `json:"division"`
	OwnerNIK string `json:"ownerNik"`
}

// CommentRecord is the data we index for a discussion comment.
type CommentRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Division   string `json:"division"`
	Body       string `json:"body"`
	AuthorNIK  string `json:"authorNik"`
	AuthorRole string `json:"authorRole"`
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
