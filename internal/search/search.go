package search

import (
	"context"
	"strconv"

	"papersub/internal/paper"
)

// Result is a single search hit returned to the caller.
type Result struct {
	PaperID int64  `json:"pid"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Status  string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Status string // empty = any status
	Topic  string
	Limit  int
	Offset int
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

// Indexer can push submissions into a search index.
type Indexer interface {
	IndexPapers(records []PaperRecord) error
}

// PaperRecord is the data we index for a submission.
type PaperRecord struct {
	ID       string   `json:"id"`
	PaperID  int64    `json:"pid"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Authors  []string `json:"authors"`
	Topics   []string `json:"topics"`
	Status   string   `json:"status"`
}

// RecordFromExport maps the exported form of a submission to its index
// record. Author emails are not indexed.
func RecordFromExport(p *paper.Export) PaperRecord {
	rec := PaperRecord{
		ID:      strconv.FormatInt(p.PID, 10),
		PaperID: p.PID,
		Title:   p.Title,
		Authors: make([]string, 0, len(p.Authors)),
		Topics:  append([]string{}, p.Topics...),
		Status:  p.Status,
	}
	if p.Abstract != nil {
		rec.Abstract = *p.Abstract
	}
	for _, au := range p.Authors {
		name := paper.Author{First: au.First, Last: au.Last}.Name()
		if name == "" {
			continue
		}
		rec.Authors = append(rec.Authors, name)
	}
	return rec
}
