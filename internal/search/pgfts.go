package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"papersub/internal/paper"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const paperDocument = `to_tsvector('english', coalesce(p.title, '') || ' ' || coalesce(p.abstract, ''))`

// Search ranks papers by title and abstract with plainto_tsquery and
// ts_rank, using ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := paperDocument + " @@ " + tsQuery
	if q.Status != "" {
		args = append(args, q.Status)
		where += fmt.Sprintf(" AND p.status = $%d", len(args))
	}
	if q.Topic != "" {
		args = append(args, q.Topic)
		where += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM paper_topics pt JOIN topics tp ON tp.id = pt.topic_id
			WHERE pt.paper_id = p.id AND LOWER(tp.name) = LOWER($%d))`, len(args))
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM papers p WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.title,
			ts_headline('english', coalesce(p.abstract, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			p.status
		FROM papers p
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, p.id ASC
		LIMIT %d OFFSET %d`, tsQuery, where, paperDocument, tsQuery, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.PaperID, &r.Title, &r.Snippet, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every submission for full reindexing. The status is
// the stored one; decisions are only applied by the exported form.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PaperRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.abstract, p.author_information, p.status,
			COALESCE(string_agg(tp.name, E'\n' ORDER BY tp.id), '')
		FROM papers p
		LEFT JOIN paper_topics pt ON pt.paper_id = p.id
		LEFT JOIN topics tp ON tp.id = pt.topic_id
		GROUP BY p.id
		ORDER BY p.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load papers: %w", err)
	}
	defer rows.Close()

	records := make([]PaperRecord, 0)
	for rows.Next() {
		var rec PaperRecord
		var authorInformation, topicNames string
		if err := rows.Scan(&rec.PaperID, &rec.Title, &rec.Abstract, &authorInformation, &rec.Status, &topicNames); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		rec.ID = strconv.FormatInt(rec.PaperID, 10)
		rec.Authors = make([]string, 0)
		for _, au := range paper.ParseAuthorInformation(authorInformation) {
			if name := au.Name(); name != "" {
				rec.Authors = append(rec.Authors, name)
			}
		}
		rec.Topics = make([]string, 0)
		if topicNames != "" {
			rec.Topics = strings.Split(topicNames, "\n")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}
	return records, nil
}
