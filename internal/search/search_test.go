package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	healthy bool
	results []Result
	err     error
	calls   int
}

func (f *fakeSearcher) Search(_ context.Context, _ Query) ([]Result, int, error) {
	f.calls++
	return f.results, len(f.results), f.err
}

func (f *fakeSearcher) Healthy() bool { return f.healthy }

type fakeIndexer struct {
	documents chan DocumentRecord
	comments  chan CommentRecord
	deleted   chan string
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		documents: make(chan DocumentRecord, 4),
		comments:  make(chan CommentRecord, 4),
		deleted:   make(chan string, 4),
	}
}

func (f *fakeIndexer) IndexDocument(doc DocumentRecord) error { f.documents <- doc; return nil }
func (f *fakeIndexer) IndexComment(c CommentRecord) error     { f.comments <- c; return nil }
func (f *fakeIndexer) DeleteDocument(id string) error         { f.deleted <- id; return nil }

func TestServiceUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeSearcher{healthy: true, results: []Result{{Type: ResultDocument, ID: "doc_1"}}}
	fallback := &fakeSearcher{healthy: true}
	svc := newServiceWith(primary, nil, fallback)

	resp := svc.Search(context.Background(), Query{Text: "lease"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "lease", resp.Query)
	assert.Equal(t, 0, fallback.calls)
}

func TestServiceFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeSearcher{healthy: true, err: errors.New("boom")}
	fallback := &fakeSearcher{healthy: true, results: []Result{{Type: ResultComment, ID: "cmt_1"}}}
	svc := newServiceWith(primary, nil, fallback)

	resp := svc.Search(context.Background(), Query{Text: "lease"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "cmt_1", resp.Results[0].ID)
	assert.Equal(t, 1, fallback.calls)
}

func TestServiceSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeSearcher{healthy: false}
	fallback := &fakeSearcher{healthy: true}
	svc := newServiceWith(primary, nil, fallback)

	resp := svc.Search(context.Background(), Query{Text: "lease"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, primary.calls)
}

func TestServiceFallbackErrorDegradesToEmpty(t *testing.T) {
	svc := newServiceWith(nil, nil, &fakeSearcher{err: errors.New("down")})
	resp := svc.Search(context.Background(), Query{Text: "x"})
	assert.Equal(t, []Result{}, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestServiceIndexesInBackground(t *testing.T) {
	idx := newFakeIndexer()
	svc := newServiceWith(nil, idx, nil)

	svc.IndexDocument(DocumentRecord{ID: "doc_1", Title: "Lease"})
	svc.IndexComment(CommentRecord{ID: "cmt_1", Body: "looks fine"})
	svc.IndexComment(CommentRecord{ID: "cmt_marker"})
	svc.DeleteDocument("doc_2")

	select {
	case doc := <-idx.documents:
		assert.Equal(t, "doc_1", doc.ID)
	case <-time.After(time.Second):
		t.Fatalf("document was not indexed")
	}
	select {
	case c := <-idx.comments:
		assert.Equal(t, "cmt_1", c.ID)
	case <-time.After(time.Second):
		t.Fatalf("comment was not indexed")
	}
	select {
	case id := <-idx.deleted:
		assert.Equal(t, "doc_2", id)
	case <-time.After(time.Second):
		t.Fatalf("document was not deleted")
	}
	select {
	case c := <-idx.comments:
		t.Fatalf("marker comment %s should not be indexed", c.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil)
	svc.IndexDocument(DocumentRecord{ID: "doc_1"})
	resp := svc.Search(context.Background(), Query{Text: "x"})
	assert.Empty(t, resp.Results)
}

func TestBuildPgQueryFilters(t *testing.T) {
	built := buildPgQuery(Query{Text: "sewa", FilterDivision: "LEGAL", FilterDocumentID: "doc_1"})
	assert.Equal(t, []any{"sewa", "LEGAL", "doc_1", "LEGAL", "doc_1"}, built.args)
	assert.Contains(t, built.union, "d.division = $2")
	assert.Contains(t, built.union, "d.id = $3")
	assert.Contains(t, built.union, "d.division = $4")
	assert.Contains(t, built.union, "c.document_id = $5")
	assert.Equal(t, 1, strings.Count(built.union, "UNION ALL"))

	commentsOnly := buildPgQuery(Query{Text: "sewa", FilterType: ResultComment})
	assert.NotContains(t, commentsOnly.union, "FROM documents d\n")
	assert.Contains(t, commentsOnly.union, "FROM comments c")
	assert.Equal(t, []any{"sewa"}, commentsOnly.args)
}

func TestPgFTSBlankQuery(t *testing.T) {
	results, total, err := NewPgFTS(nil).Search(context.Background(), Query{Text: "  "})
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, total)
}

func TestBuildRequests(t *testing.T) {
	reqs := buildRequests(Query{Text: "nda", FilterDivision: "FIN", FilterDocumentID: "doc_1", Limit: 500})
	require.Len(t, reqs, 2)
	assert.Equal(t, idxDocuments, reqs[0].IndexUID)
	assert.Equal(t, "nda", reqs[0].Query)
	assert.Equal(t, int64(100), reqs[0].Limit)
	assert.Equal(t, []string{`division = "FIN"`, `id = "doc_1"`}, reqs[0].Filter)
	assert.Equal(t, []string{`division = "FIN"`, `documentId = "doc_1"`}, reqs[1].Filter)

	only := buildRequests(Query{Text: "nda", FilterType: ResultDocument})
	require.Len(t, only, 1)
	assert.Nil(t, only[0].Filter)
}

func TestHitToResult(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	hit := meili.Hit{
		"id":         raw("cmt_1"),
		"documentId": raw("doc_1"),
		"division":   raw("FINANCE"),
		"authorNik":  raw("301"),
		"body":       raw("budget ok"),
		"_formatted": raw(map[string]string{"body": "<mark>budget</mark> ok"}),
	}
	r := hitToResult(hit, ResultComment)
	assert.Equal(t, Result{
		Type:       ResultComment,
		ID:         "cmt_1",
		Title:      "301",
		Snippet:    "<mark>budget</mark> ok",
		DocumentID: "doc_1",
		Division:   "FINANCE",
	}, r)

	doc := hitToResult(meili.Hit{"id": raw("doc_9"), "title": raw("Lease"), "status": raw("IN_DISCUSSION")}, ResultDocument)
	assert.Equal(t, "doc_9", doc.DocumentID)
	assert.Equal(t, "Lease", doc.Title)
	assert.Equal(t, "IN_DISCUSSION", doc.Status)
}

func TestPageLimit(t *testing.T) {
	assert.Equal(t, 20, pageLimit(0))
	assert.Equal(t, 5, pageLimit(5))
	assert.Equal(t, 100, pageLimit(1000))
}
