package dashboard

import (
	"fmt"
	"strings"
)

// Mode selects how records are drawn.
type Mode string

const (
	ModeScatter Mode = "scatter"
	ModeHeatmap Mode = "heatmap"
)

// DefaultMode is the mode of a freshly loaded page.
const DefaultMode = ModeScatter

// ParseMode returns the mode named by s. Empty means DefaultMode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultMode, nil
	case ModeScatter:
		return ModeScatter, nil
	case ModeHeatmap:
		return ModeHeatmap, nil
	}
	return "", fmt.Errorf("mode must be %q or %q, got %q", ModeScatter, ModeHeatmap, s)
}

// EventKind names what caused a view to be recomputed.
type EventKind string

const (
	EventLoad             EventKind = "load"
	EventSelectionChanged EventKind = "selection"
	EventModeChanged      EventKind = "mode"
	EventRefreshTick      EventKind = "tick"
)

// ParseEventKind returns the kind named by s. Empty means EventLoad.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return EventLoad, nil
	case EventLoad, EventSelectionChanged, EventModeChanged, EventRefreshTick:
		return k, nil
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}
