package httpapi

import (
	"embed"
	"html/template"
	"strings"

	"openphone-relay/internal/reporting"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Templates parses the embedded HTML views. Register the result with
// gin.Engine.SetHTMLTemplate.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"periodTitle": periodTitle,
	}).ParseFS(templateFS, "templates/*.tmpl")
}

func periodTitle(p reporting.Period) string {
	s := string(p)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
