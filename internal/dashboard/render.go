package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/models"
)

// Map presentation constants shared by both modes.
const (
	MapStyle      = "open-street-map"
	MapZoom       = 5
	MapHeight     = 700
	HeatmapRadius = 25

	// maxMarkerSize is the pixel diameter of the most severe scatter marker.
	maxMarkerSize = 20
)

// Fixed view texts.
const (
	NoDataTitle   = "No data available for the selected filters"
	NoDataSummary = "No data available."
	ErrorTitle    = "Unable to load records from Grist"
)

// View is the (figure, summary) pair shown for one event, plus metadata for the page.
type View struct {
	Figure      Figure    `json:"figure"`
	Summary     string    `json:"summary"`
	Error       string    `json:"error,omitempty"`
	Count       int       `json:"count"`
	Mode        Mode      `json:"mode"`
	Selection   []string  `json:"selection"`
	Stale       bool      `json:"stale,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Filter returns the records whose pathogen is in selection, preserving order.
// An empty selection keeps every record.
func Filter(records []models.Record, selection []string) []models.Record {
	if len(selection) == 0 {
		return records
	}
	want := make(map[string]struct{}, len(selection))
	for _, s := range selection {
		want[s] = struct{}{}
	}
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if _, ok := want[r.Pathogen]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Summary returns the info line for n displayed records.
func Summary(n int) string {
	if n == 0 {
		return NoDataSummary
	}
	return fmt.Sprintf("Showing %d records from Grist.", n)
}

// Render filters records by selection and builds the view for mode. It is pure:
// identical inputs produce identical views.
func Render(records []models.Record, selection []string, mode Mode) View {
	filtered := Filter(records, selection)
	v := View{
		Summary:   Summary(len(filtered)),
		Count:     len(filtered),
		Mode:      mode,
		Selection: normalizeSelection(selection),
	}
	switch {
	case len(filtered) == 0:
		v.Figure = emptyFigure(NoDataTitle)
	case mode == ModeScatter:
		v.Figure = scatterFigure(filtered)
	default:
		v.Figure = densityFigure(filtered)
	}
	return v
}

// ErrorView is shown when no dataset could be loaded. It keeps the empty-map
// layout so the page stays usable.
func ErrorView(selection []string, mode Mode, message string) View {
	return View{
		Figure:    emptyFigure(ErrorTitle),
		Summary:   NoDataSummary,
		Error:     message,
		Mode:      mode,
		Selection: normalizeSelection(selection),
	}
}

func normalizeSelection(selection []string) []string {
	if selection == nil {
		return []string{}
	}
	return selection
}

func emptyFigure(title string) Figure {
	return Figure{
		Data: []Trace{{
			Type:          "scattermapbox",
			Lat:           []float64{},
			Lon:           []float64{},
			Mode:          "markers",
			HoverTemplate: "lat=%{lat}<br>lon=%{lon}<extra></extra>",
			Subplot:       "mapbox",
		}},
		Layout: Layout{
			Title:  &Title{Text: title},
			Mapbox: Mapbox{Style: MapStyle},
		},
	}
}

func scatterFigure(records []models.Record) Figure {
	n := len(records)
	lat := make([]float64, n)
	lon := make([]float64, n)
	severity := make([]float64, n)
	names := make([]string, n)
	custom := make([][]string, n)
	maxSeverity := 0.0
	for i, r := range records {
		lat[i], lon[i], severity[i] = r.Lat, r.Lon, r.Severity
		names[i] = r.Pathogen
		custom[i] = []string{r.Date}
		if r.Severity > maxSeverity {
			maxSeverity = r.Severity
		}
	}

	sizeRef := 1.0
	if maxSeverity > 0 {
		sizeRef = 2 * maxSeverity / (maxMarkerSize * maxMarkerSize)
	}

	return Figure{
		Data: []Trace{{
			Type: "scattermapbox",
			Lat:  lat,
			Lon:  lon,
			Mode: "markers",
			Marker: &Marker{
				Color:     severity,
				ColorAxis: "coloraxis",
				Size:      severity,
				SizeMode:  "area",
				SizeRef:   sizeRef,
			},
			HoverText:     names,
			CustomData:    custom,
			HoverTemplate: "<b>%{hovertext}</b><br><br>severity=%{marker.color}<br>date=%{customdata[0]}<extra></extra>",
			Subplot:       "mapbox",
		}},
		Layout: mapLayout(lat, lon),
	}
}

func densityFigure(records []models.Record) Figure {
	n := len(records)
	lat := make([]float64, n)
	lon := make([]float64, n)
	z := make([]float64, n)
	custom := make([][]string, n)
	for i, r := range records {
		lat[i], lon[i], z[i] = r.Lat, r.Lon, r.Severity
		custom[i] = []string{r.Pathogen, r.Date}
	}

	return Figure{
		Data: []Trace{{
			Type:          "densitymapbox",
			Lat:           lat,
			Lon:           lon,
			Z:             z,
			Radius:        HeatmapRadius,
			ColorAxis:     "coloraxis",
			CustomData:    custom,
			HoverTemplate: "pathogen=%{customdata[0]}<br>date=%{customdata[1]}<br>lat=%{lat}<br>lon=%{lon}<br>severity=%{z}<extra></extra>",
			Subplot:       "mapbox",
		}},
		Layout: mapLayout(lat, lon),
	}
}

// mapLayout centers the map on the mean coordinate of the plotted points.
func mapLayout(lat, lon []float64) Layout {
	return Layout{
		Mapbox: Mapbox{
			Style:  MapStyle,
			Center: &LatLon{Lat: mean(lat), Lon: mean(lon)},
			Zoom:   MapZoom,
		},
		ColorAxis: &ColorAxis{
			ColorScale: Reds(),
			ColorBar:   ColorBar{Title: Title{Text: "severity"}},
		},
		Legend: &Legend{TraceGroupGap: 0, ItemSizing: "constant"},
		Margin: &Margin{},
		Height: MapHeight,
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// errorMessage is the user-facing text for a load failure category.
func errorMessage(category string) string {
	switch strings.ToLower(category) {
	case "invalid_api_key":
		return "Grist rejected the API key."
	case "table_not_found":
		return "Grist document or table not found."
	case "circuit_open":
		return "Grist is temporarily unavailable; retrying shortly."
	case "rate_limited":
		return "Grist rate limit reached; retrying shortly."
	}
	return "Unable to reach Grist."
}
