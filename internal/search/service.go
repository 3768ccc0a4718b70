package search

import (
	"context"

	"github.com/rs/zerolog"

	"legalflow/internal/logging"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Index writes are fire-and-forget; the workflow never waits on the index.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	log      zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured, and pgfts may be nil in tests that only exercise indexing.
func NewService(m *Meili, pgfts *PgFTS) *Service {
	s := &Service{log: logging.Component("search")}
	if m != nil {
		s.primary = m
		s.indexer = m
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

func newServiceWith(primary Searcher, indexer Indexer, fallback Searcher) *Service {
	return &Service{primary: primary, indexer: indexer, fallback: fallback, log: logging.Component("search")}
}

// Search tries the primary index if healthy, otherwise falls back to PG FTS.
// Errors degrade to an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) indexReady() bool {
	if s.indexer == nil {
		return false
	}
	if h, ok := s.indexer.(interface{ Healthy() bool }); ok {
		return h.Healthy()
	}
	return true
}

// IndexDocument indexes a document in the background.
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.indexer.IndexDocument(doc); err != nil {
			s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("index document")
		}
	}()
}

// IndexComment indexes a comment in the background. Marker-only comments
// without a body are skipped.
func (s *Service) IndexComment(c CommentRecord) {
	if c.Body == "" || !s.indexReady() {
		return
	}
	go func() {
		if err := s.indexer.IndexComment(c); err != nil {
			s.log.Warn().Err(err).Str("comment_id", c.ID).Msg("index comment")
		}
	}()
}

// DeleteDocument removes a withdrawn draft from the index in the background.
func (s *Service) DeleteDocument(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.indexer.DeleteDocument(id); err != nil {
			s.log.Warn().Err(err).Str("document_id", id).Msg("delete document")
		}
	}()
}

// ReindexAllFromPG pushes every document and comment from PostgreSQL into
// Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	m, ok := s.indexer.(*Meili)
	pg, pgOK := s.fallback.(*PgFTS)
	if !ok || !pgOK || !m.Healthy() {
		return
	}
	documents, comments, err := pg.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := m.IndexDocuments(documents); err != nil {
		s.log.Error().Err(err).Msg("reindex documents")
	}
	if err := m.IndexComments(comments); err != nil {
		s.log.Error().Err(err).Msg("reindex comments")
	}
	s.log.Info().Int("documents", len(documents)).Int("comments", len(comments)).Msg("search reindexed")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
