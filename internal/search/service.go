package search

import (
	"context"

	"papersub/internal/logger"
	"papersub/internal/paper"
)

// Engine is a primary search backend, normally Meilisearch.
type Engine interface {
	Searcher
	Indexer
}

// Fallback answers queries when the engine is down and feeds reindexing.
type Fallback interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]PaperRecord, error)
}

// Service is the facade that tries the engine first and falls back to PG FTS.
type Service struct {
	engine   Engine
	fallback Fallback
	log      *logger.Logger
}

// NewService creates a search service. engine may be nil if Meilisearch is not configured.
func NewService(engine Engine, fallback Fallback, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{engine: engine, fallback: fallback, log: log}
}

func (s *Service) engineReady() bool {
	return s.engine != nil && s.engine.Healthy()
}

// Search tries the engine if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engineReady() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("search engine error, falling back to pgfts", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// PaperSaved indexes the saved submission. It is a no-op while the engine
// is unavailable; ReindexAll catches up.
func (s *Service) PaperSaved(_ context.Context, ev paper.SavedEvent) error {
	if !s.engineReady() || ev.Paper == nil {
		return nil
	}
	return s.engine.IndexPapers([]PaperRecord{RecordFromExport(ev.Paper)})
}

// ReindexAll reads every submission from PG and pushes it to the engine.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.engineReady() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error("search reindex load failed", "error", err)
		return
	}
	if err := s.engine.IndexPapers(records); err != nil {
		s.log.Error("search reindex failed", "error", err)
		return
	}
	s.log.Info("search reindexed", "papers", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
