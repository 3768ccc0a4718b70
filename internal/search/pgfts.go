package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the documents and comments search_vector
// columns.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// pgQuery is the UNION ALL statement plus its positional arguments.
type pgQuery struct {
	union string
	args  []any
}

func buildPgQuery(q Query) pgQuery {
	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		where := "d.search_vector @@ " + tsQuery
		if q.FilterDivision != "" {
			where += fmt.Sprintf(" AND d.division = $%d", argN)
			args = append(args, q.FilterDivision)
			argN++
		}
		if q.FilterDocumentID != "" {
			where += fmt.Sprintf(" AND d.id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				''::text AS snippet,
				d.id AS document_id, d.division, d.status,
				ts_rank(d.search_vector, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		where := "c.search_vector @@ " + tsQuery
		if q.FilterDivision != "" {
			where += fmt.Sprintf(" AND d.division = $%d", argN)
			args = append(args, q.FilterDivision)
			argN++
		}
		if q.FilterDocumentID != "" {
			where += fmt.Sprintf(" AND c.document_id = $%d", argN)
			args = append(args, q.FilterDocumentID)
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, c.author_nik AS title,
				ts_headline('simple', c.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.document_id, d.division, ''::text AS status,
				ts_rank(c.search_vector, %s) AS rank
			FROM comments c
			JOIN documents d ON d.id = c.document_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	return pgQuery{union: strings.Join(subQueries, " UNION ALL "), args: args}
}

// Search runs a ranked UNION ALL over documents and comments.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	built := buildPgQuery(q)
	if built.union == "" {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", built.union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, division, status
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, built.union, pageLimit(q.Limit), max(q.Offset, 0))

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, built.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, built.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.Division, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CommentRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, status, division, owner_nik
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.Status, &d.Division, &d.OwnerNIK); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, d.division, c.body, c.author_nik, c.author_role
		FROM comments c
		JOIN documents d ON d.id = c.document_id
		WHERE c.body <> ''
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.DocumentID, &c.Division, &c.Body, &c.AuthorNIK, &c.AuthorRole); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return documents, comments, nil
}
