package http

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/index.html.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

// Dropdown and radio labels shown on the page.
const (
	selectionPlaceholder = "Filter by pathogen type..."
	scatterLabel         = "Scatter Map"
	heatmapLabel         = "Heatmap (Density)"
	defaultTitle         = "🦠 Pathogen Distribution Map"
	defaultRefresh       = 5 * time.Minute
)

type pageData struct {
	Title        string
	Placeholder  string
	ScatterLabel string
	HeatmapLabel string
	RefreshMs    int64
}

func renderPage(cfg PageConfig) ([]byte, error) {
	data := pageData{
		Title:        cfg.Title,
		Placeholder:  selectionPlaceholder,
		ScatterLabel: scatterLabel,
		HeatmapLabel: heatmapLabel,
		RefreshMs:    cfg.RefreshInterval.Milliseconds(),
	}
	if data.Title == "" {
		data.Title = defaultTitle
	}
	if data.RefreshMs <= 0 {
		data.RefreshMs = defaultRefresh.Milliseconds()
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
