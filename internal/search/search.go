package search

import "weldvault/api/internal/record"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject  ResultType = "project"
	ResultWeldLog  ResultType = "weldLog"
	ResultDocument ResultType = "document"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
	Offset          int
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProject(p ProjectRecord) error
	IndexWeldLog(w WeldLogRecord) error
	IndexDocument(d DocumentRecord) error
	DeleteProject(id string) error
	DeleteWeldLog(id string) error
	DeleteDocument(id string) error
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Status string `json:"status"`
}

// WeldLogRecord is the data we index for a weld log.
type WeldLogRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Spec      string `json:"spec"`
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}

// DocumentRecord is the data we index for a library document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	ProjectID string `json:"projectId"`
	SectionID string `json:"sectionId"`
	Status    string `json:"status"`
}

// ProjectFromRecord extracts the indexable fields of a project record.
func ProjectFromRecord(rec record.Record) ProjectRecord {
	return ProjectRecord{
		ID:     rec.ID,
		Name:   rec.StringField("name"),
		Code:   rec.StringField("code"),
		Status: string(rec.Status),
	}
}

// WeldLogFromRecord extracts the indexable fields of a weld log record.
func WeldLogFromRecord(rec record.Record) WeldLogRecord {
	return WeldLogRecord{
		ID:        rec.ID,
		Name:      rec.StringField("name"),
		Spec:      rec.StringField("spec"),
		ProjectID: rec.StringField("projectId"),
		Status:    string(rec.Status),
	}
}

// DocumentFromRecord extracts the indexable fields of a document record.
func DocumentFromRecord(rec record.Record) DocumentRecord {
	return DocumentRecord{
		ID:        rec.ID,
		Title:     rec.StringField("title"),
		Body:      rec.StringField("body"),
		ProjectID: rec.StringField("projectId"),
		SectionID: rec.StringField("sectionId"),
		Status:    string(rec.Status),
	}
}
