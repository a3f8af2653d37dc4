package dashboard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/grist"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/models"
)

type stubSource struct {
	ds    models.Dataset
	err   error
	calls int
}

func (s *stubSource) Records(ctx context.Context) (models.Dataset, error) {
	s.calls++
	return s.ds, s.err
}

func TestHandle_EveryEventKindRenders(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &stubSource{ds: models.Dataset{Records: twoFlu}}
	d := New(src, clock)

	for _, kind := range []EventKind{EventLoad, EventSelectionChanged, EventModeChanged, EventRefreshTick} {
		v := d.Handle(context.Background(), Event{Kind: kind, Mode: ModeScatter})
		assert.Equal(t, "Showing 2 records from Grist.", v.Summary, kind)
		assert.Equal(t, clock.Now(), v.GeneratedAt, kind)
	}
	assert.Equal(t, 4, src.calls)
}

func TestHandle_DefaultsMode(t *testing.T) {
	d := New(&stubSource{ds: models.Dataset{Records: twoFlu}}, nil)
	v := d.Handle(context.Background(), Event{Kind: EventLoad})
	assert.Equal(t, ModeScatter, v.Mode)
	assert.Equal(t, "scattermapbox", v.Figure.Data[0].Type)
}

func TestHandle_SelectionFilters(t *testing.T) {
	records := append([]models.Record{{Pathogen: "Covid", Lat: 1, Lon: 2, Severity: 1}}, twoFlu...)
	d := New(&stubSource{ds: models.Dataset{Records: records}}, nil)

	v := d.Handle(context.Background(), Event{Kind: EventSelectionChanged, Selection: []string{"Covid"}, Mode: ModeHeatmap})
	assert.Equal(t, "Showing 1 records from Grist.", v.Summary)
	assert.Equal(t, []string{"Covid"}, v.Selection)
	assert.Equal(t, "densitymapbox", v.Figure.Data[0].Type)
}

func TestHandle_StaleDatasetFlagged(t *testing.T) {
	d := New(&stubSource{ds: models.Dataset{Records: twoFlu, Stale: true}}, nil)
	v := d.Handle(context.Background(), Event{Kind: EventRefreshTick})
	assert.True(t, v.Stale)
	assert.Empty(t, v.Error)
}

func TestHandle_LoadErrorBecomesErrorView(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"bad key", fmt.Errorf("fetch: %w", grist.ErrInvalidAPIKey), "Grist rejected the API key."},
		{"missing table", grist.ErrTableNotFound, "Grist document or table not found."},
		{"upstream", fmt.Errorf("exhausted retries: %w", grist.ErrUpstreamFailure), "Unable to reach Grist."},
		{"unknown", errors.New("boom"), "Unable to reach Grist."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(&stubSource{err: tt.err}, nil)
			v := d.Handle(context.Background(), Event{Kind: EventLoad, Mode: ModeScatter})

			assert.Equal(t, "No data available.", v.Summary)
			assert.Equal(t, tt.message, v.Error)
			require.NotNil(t, v.Figure.Layout.Title)
			assert.Equal(t, ErrorTitle, v.Figure.Layout.Title.Text)
			assert.Empty(t, v.Figure.Data[0].Lat)
			assert.False(t, v.GeneratedAt.IsZero())
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeScatter, false},
		{"scatter", ModeScatter, false},
		{" Heatmap ", ModeHeatmap, false},
		{"density", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseEventKind(t *testing.T) {
	k, err := ParseEventKind("")
	require.NoError(t, err)
	assert.Equal(t, EventLoad, k)

	k, err = ParseEventKind("TICK")
	require.NoError(t, err)
	assert.Equal(t, EventRefreshTick, k)

	_, err = ParseEventKind("hover")
	assert.Error(t, err)
}
