package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		// Fallback to built-in template if file not found
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for report template rendering.
type TemplateData struct {
	ProjectName string
	ProjectCode string
	LogName     string
	Spec        string
	GeneratedAt time.Time
	Welds       []TemplateWeld
}

// TemplateWeld holds one weld row for the report table.
type TemplateWeld struct {
	Number   string
	Welder   string
	Position string
	Result   string
	Status   string
	Date     string
}

// RenderReportHTML renders the report template with provided data.
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.LogName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { border: 1px solid #999; padding: 0.4rem; text-align: left; }
  </style>
</head>
<body>
  <h1>{{.LogName}}</h1>
  <div class="meta">{{.ProjectName}}{{if .ProjectCode}} ({{.ProjectCode}}){{end}} | {{.Spec}} | {{formatDate .GeneratedAt "Jan 2, 2006"}}</div>
  <table>
    <tr><th>Weld</th><th>Welder</th><th>Position</th><th>Result</th><th>Date</th></tr>
    {{range .Welds}}<tr><td>{{.Number}}</td><td>{{.Welder}}</td><td>{{.Position}}</td><td>{{.Result}}</td><td>{{.Date}}</td></tr>{{end}}
  </table>
</body>
</html>`
