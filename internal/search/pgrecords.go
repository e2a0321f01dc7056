package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgRecords implements Searcher over the records table as a fallback when
// Meilisearch is down. Matching is substring ILIKE over the payload fields
// that Meilisearch would have indexed; ordering falls back to recency since
// there is no rank.
type PgRecords struct {
	db *sql.DB
}

// NewPgRecords creates a records-table searcher.
func NewPgRecords(db *sql.DB) *PgRecords {
	return &PgRecords{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgRecords) Healthy() bool {
	return true
}

// Search runs a UNION ALL query across the searchable collections.
func (p *PgRecords) Search(q Query) ([]Result, int, error) {
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

	args := []any{"%" + q.Text + "%"}
	argN := 2
	projectArg := 0
	if q.FilterProjectID != "" {
		args = append(args, q.FilterProjectID)
		projectArg = argN
		argN++
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProject {
		where := `r.collection = 'projects' AND r.status <> 'deleted'
			AND (r.data->>'name' ILIKE $1 OR r.data->>'code' ILIKE $1)`
		if projectArg > 0 {
			where += fmt.Sprintf(" AND r.id = $%d", projectArg)
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, r.id,
				coalesce(r.data->>'name', '') AS title,
				coalesce(r.data->>'code', '') AS snippet,
				r.id AS project_id, r.created_at
			FROM records r
			WHERE %s`, where))
	}

	if q.FilterType == "" || q.FilterType == ResultWeldLog {
		where := `r.collection = 'weldLogs' AND r.status <> 'deleted'
			AND (r.data->>'name' ILIKE $1 OR r.data->>'spec' ILIKE $1)`
		if projectArg > 0 {
			where += fmt.Sprintf(" AND r.data->>'projectId' = $%d", projectArg)
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'weldLog'::text AS type, r.id,
				coalesce(r.data->>'name', '') AS title,
				coalesce(r.data->>'spec', '') AS snippet,
				coalesce(r.data->>'projectId', '') AS project_id, r.created_at
			FROM records r
			WHERE %s`, where))
	}

	if q.FilterType == "" || q.FilterType == ResultDocument {
		where := `r.collection = 'documents' AND r.status <> 'deleted'
			AND (r.data->>'title' ILIKE $1 OR r.data->>'body' ILIKE $1)`
		if projectArg > 0 {
			where += fmt.Sprintf(" AND r.data->>'projectId' = $%d", projectArg)
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, r.id,
				coalesce(r.data->>'title', '') AS title,
				left(coalesce(r.data->>'body', ''), 200) AS snippet,
				coalesce(r.data->>'projectId', '') AS project_id, r.created_at
			FROM records r
			WHERE %s`, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id
		FROM (%s) sub
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("records search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("records search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("records search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}
