package dashboard

// Figure is a Plotly figure description. The page passes it to Plotly.react as-is.
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// Trace is the subset of Plotly trace attributes used by the map views.
type Trace struct {
	Type          string     `json:"type"`
	Lat           []float64  `json:"lat"`
	Lon           []float64  `json:"lon"`
	Mode          string     `json:"mode,omitempty"`
	Marker        *Marker    `json:"marker,omitempty"`
	Z             []float64  `json:"z,omitempty"`
	Radius        int        `json:"radius,omitempty"`
	ColorAxis     string     `json:"coloraxis,omitempty"`
	HoverText     []string   `json:"hovertext,omitempty"`
	CustomData    [][]string `json:"customdata,omitempty"`
	HoverTemplate string     `json:"hovertemplate,omitempty"`
	Name          string     `json:"name"`
	ShowLegend    bool       `json:"showlegend"`
	Subplot       string     `json:"subplot,omitempty"`
}

// Marker styles scatter points. Color and Size carry per-point severity.
type Marker struct {
	Color     []float64 `json:"color,omitempty"`
	ColorAxis string    `json:"coloraxis,omitempty"`
	Size      []float64 `json:"size,omitempty"`
	SizeMode  string    `json:"sizemode,omitempty"`
	SizeRef   float64   `json:"sizeref,omitempty"`
}

type Layout struct {
	Title     *Title     `json:"title,omitempty"`
	Mapbox    Mapbox     `json:"mapbox"`
	ColorAxis *ColorAxis `json:"coloraxis,omitempty"`
	Legend    *Legend    `json:"legend,omitempty"`
	Margin    *Margin    `json:"margin,omitempty"`
	Height    int        `json:"height,omitempty"`
}

type Title struct {
	Text string `json:"text"`
}

type Mapbox struct {
	Style  string  `json:"style"`
	Center *LatLon `json:"center,omitempty"`
	Zoom   float64 `json:"zoom,omitempty"`
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type ColorAxis struct {
	ColorScale [][2]interface{} `json:"colorscale"`
	ColorBar   ColorBar         `json:"colorbar"`
}

type ColorBar struct {
	Title Title `json:"title"`
}

type Legend struct {
	TraceGroupGap int    `json:"tracegroupgap"`
	ItemSizing    string `json:"itemsizing"`
}

type Margin struct {
	R int `json:"r"`
	T int `json:"t"`
	L int `json:"l"`
	B int `json:"b"`
}

// redsScale is the ColorBrewer 9-class sequential Reds scale.
var redsScale = []string{
	"rgb(255,245,240)", "rgb(254,224,210)", "rgb(252,187,161)",
	"rgb(252,146,114)", "rgb(251,106,74)", "rgb(239,59,44)",
	"rgb(203,24,29)", "rgb(165,15,21)", "rgb(103,0,13)",
}

// Reds returns redsScale as evenly spaced Plotly colorscale stops.
func Reds() [][2]interface{} {
	out := make([][2]interface{}, len(redsScale))
	last := float64(len(redsScale) - 1)
	for i, c := range redsScale {
		out[i] = [2]interface{}{float64(i) / last, c}
	}
	return out
}
