// Package dashboard turns the current dataset plus the user's selection and
// mode into a map figure and summary line.
package dashboard

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/grist"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/models"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/observability"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/reqctx"
)

// RecordSource supplies the dataset to render.
type RecordSource interface {
	Records(ctx context.Context) (models.Dataset, error)
}

// Event is one UI interaction: initial load, selection change, mode change or refresh tick.
type Event struct {
	Kind      EventKind
	Selection []string
	Mode      Mode
}

// Dashboard handles events by reading the dataset and rendering a View.
type Dashboard struct {
	source RecordSource
	clock  clockwork.Clock
}

// New creates a Dashboard. A nil clock uses the real clock.
func New(source RecordSource, clock clockwork.Clock) *Dashboard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dashboard{source: source, clock: clock}
}

// Handle produces the view for ev. Load failures are reported in View.Error
// with an empty map rather than as an error.
func (d *Dashboard) Handle(ctx context.Context, ev Event) View {
	logger := reqctx.Logger(ctx)
	mode := ev.Mode
	if mode == "" {
		mode = DefaultMode
	}
	if ev.Kind == EventSelectionChanged {
		observability.RecordPathogenSelection(ev.Selection)
	}

	ds, err := d.source.Records(ctx)
	if err != nil {
		category := string(grist.CategorizeError(err))
		observability.ViewsRenderedTotal.WithLabelValues(string(mode), "error").Inc()
		logger.Warn("view rendered without data", zap.String("trigger", string(ev.Kind)), zap.String("category", category), zap.Error(err))
		v := ErrorView(ev.Selection, mode, errorMessage(category))
		v.GeneratedAt = d.clock.Now()
		return v
	}

	v := Render(ds.Records, ev.Selection, mode)
	v.Stale = ds.Stale
	v.GeneratedAt = d.clock.Now()

	outcome := "data"
	if v.Count == 0 {
		outcome = "empty"
	}
	observability.ViewsRenderedTotal.WithLabelValues(string(mode), outcome).Inc()
	logger.Debug("view rendered",
		zap.String("trigger", string(ev.Kind)),
		zap.String("mode", string(mode)),
		zap.Strings("selection", ev.Selection),
		zap.Int("count", v.Count),
		zap.Bool("stale", ds.Stale),
	)
	return v
}
