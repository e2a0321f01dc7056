package export

import (
	"context"
	"fmt"
	"time"

	"weldvault/api/internal/record"
)

// DataStore is the slice of the record backend report building needs.
type DataStore interface {
	Get(ctx context.Context, collection, id string) (record.Record, error)
	FetchOnce(ctx context.Context, collection string, filters []record.Filter) ([]record.Record, error)
}

// Service renders weld log reports.
type Service struct {
	store DataStore
	now   func() time.Time
}

// NewService creates an export service.
func NewService(store DataStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Export builds the weld log report and prints it to PDF.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	data, err := s.buildReport(ctx, req)
	if err != nil {
		return nil, err
	}
	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return printPDF(html, data.LogName)
}

func (s *Service) buildReport(ctx context.Context, req Request) (TemplateData, error) {
	weldLog, err := s.store.Get(ctx, "weldLogs", req.WeldLogID)
	if err != nil {
		return TemplateData{}, fmt.Errorf("get weld log: %w", err)
	}

	data := TemplateData{
		LogName:     weldLog.StringField("name"),
		Spec:        weldLog.StringField("spec"),
		GeneratedAt: s.now().UTC(),
	}
	if data.LogName == "" {
		data.LogName = weldLog.ID
	}

	if projectID := weldLog.StringField("projectId"); projectID != "" {
		if project, err := s.store.Get(ctx, "projects", projectID); err == nil {
			data.ProjectName = project.StringField("name")
			data.ProjectCode = project.StringField("code")
		}
	}

	welds, err := s.store.FetchOnce(ctx, "welds", []record.Filter{
		record.Eq("weldLogId", weldLog.ID),
		record.Neq("status", string(record.StatusDeleted)),
	})
	if err != nil {
		return TemplateData{}, fmt.Errorf("list welds: %w", err)
	}

	for _, weld := range welds {
		if weld.Status == record.StatusArchived && !req.IncludeArchived {
			continue
		}
		row := TemplateWeld{
			Number:   weld.StringField("number"),
			Welder:   weld.StringField("welderName"),
			Position: weld.StringField("position"),
			Result:   weld.StringField("result"),
			Status:   string(weld.Status),
			Date:     weld.StringField("weldedAt"),
		}
		if row.Number == "" {
			row.Number = weld.ID
		}
		data.Welds = append(data.Welds, row)
	}
	return data, nil
}
