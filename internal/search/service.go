package search

import (
	"context"
	"log"

	"weldvault/api/internal/record"
)

// Service is the facade that tries Meilisearch first and falls back to the
// records table.
type Service struct {
	meili *Meili
	pg    *PgRecords
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pg *PgRecords) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to records table: %v", err)
	}
	if s.pg == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: records table error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRecord pushes a mutated record into the right index, fire-and-forget.
// Collections without an index are ignored.
func (s *Service) IndexRecord(collection string, rec record.Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		var err error
		switch collection {
		case "projects":
			err = s.meili.IndexProject(ProjectFromRecord(rec))
		case "weldLogs":
			err = s.meili.IndexWeldLog(WeldLogFromRecord(rec))
		case "documents":
			err = s.meili.IndexDocument(DocumentFromRecord(rec))
		default:
			return
		}
		if err != nil {
			log.Printf("search: index %s/%s: %v", collection, rec.ID, err)
		}
	}()
}

// DeleteRecord removes a record from its index, fire-and-forget. Soft deletes
// call this too: deleted records never surface in search.
func (s *Service) DeleteRecord(collection, id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		var err error
		switch collection {
		case "projects":
			err = s.meili.DeleteProject(id)
		case "weldLogs":
			err = s.meili.DeleteWeldLog(id)
		case "documents":
			err = s.meili.DeleteDocument(id)
		default:
			return
		}
		if err != nil {
			log.Printf("search: delete %s/%s: %v", collection, id, err)
		}
	}()
}

// fetcher is the slice of the record backend reindexing needs.
type fetcher interface {
	FetchOnce(ctx context.Context, collection string, filters []record.Filter) ([]record.Record, error)
}

// ReindexAll reloads every live record from the backend into Meilisearch.
// Called at startup so a fresh Meilisearch instance catches up.
func (s *Service) ReindexAll(ctx context.Context, backend fetcher) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	live := []record.Filter{record.Neq("status", string(record.StatusDeleted))}

	if recs, err := backend.FetchOnce(ctx, "projects", live); err == nil {
		projects := make([]ProjectRecord, 0, len(recs))
		for _, rec := range recs {
			projects = append(projects, ProjectFromRecord(rec))
		}
		if err := s.meili.IndexProjects(projects); err != nil {
			log.Printf("search: reindex projects: %v", err)
		}
	} else {
		log.Printf("search: reindex load projects: %v", err)
	}

	if recs, err := backend.FetchOnce(ctx, "weldLogs", live); err == nil {
		weldLogs := make([]WeldLogRecord, 0, len(recs))
		for _, rec := range recs {
			weldLogs = append(weldLogs, WeldLogFromRecord(rec))
		}
		if err := s.meili.IndexWeldLogs(weldLogs); err != nil {
			log.Printf("search: reindex weld logs: %v", err)
		}
	} else {
		log.Printf("search: reindex load weld logs: %v", err)
	}

	if recs, err := backend.FetchOnce(ctx, "documents", live); err == nil {
		documents := make([]DocumentRecord, 0, len(recs))
		for _, rec := range recs {
			documents = append(documents, DocumentFromRecord(rec))
		}
		if err := s.meili.IndexDocuments(documents); err != nil {
			log.Printf("search: reindex documents: %v", err)
		}
	} else {
		log.Printf("search: reindex load documents: %v", err)
	}
}

// ScrubDeleted removes soft-deleted records from the indexes. Cascade deletes
// mark descendants without touching search, so callers run this after one.
func (s *Service) ScrubDeleted(ctx context.Context, backend fetcher) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	deleted := []record.Filter{record.Eq("status", string(record.StatusDeleted))}
	for _, collection := range []string{"projects", "weldLogs", "documents"} {
		recs, err := backend.FetchOnce(ctx, collection, deleted)
		if err != nil {
			log.Printf("search: scrub load %s: %v", collection, err)
			continue
		}
		for _, rec := range recs {
			s.DeleteRecord(collection, rec.ID)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
