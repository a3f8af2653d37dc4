package validation

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/dashboard"
)

// ErrSelectionTooLarge is returned when more pathogens are selected than allowed.
var ErrSelectionTooLarge = errors.New("too many pathogens selected")

// ErrPathogenTooLong is returned when a selected pathogen name exceeds the maximum length.
var ErrPathogenTooLong = errors.New("pathogen name too long")

// ErrPathogenInvalidChars is returned when a selected name is not UTF-8 or contains control characters.
var ErrPathogenInvalidChars = errors.New("pathogen name contains invalid characters")

// ErrInvalidMode is returned for a mode other than scatter or heatmap.
var ErrInvalidMode = errors.New("invalid map mode")

// ErrInvalidTrigger is returned for an unknown trigger.
var ErrInvalidTrigger = errors.New("invalid trigger")

// ValidateSelection checks each selected pathogen name (maxLen in runes) and the
// number of distinct names (maxItems). Names are matched exactly, so they are not
// trimmed or case-folded; duplicates are removed keeping first occurrence.
// Errors are suitable for 400 INVALID_SELECTION responses.
func ValidateSelection(values []string, maxItems, maxLen int) ([]string, error) {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if !utf8.ValidString(v) {
			return nil, ErrPathogenInvalidChars
		}
		if maxLen > 0 && utf8.RuneCountInString(v) > maxLen {
			return nil, ErrPathogenTooLong
		}
		for _, r := range v {
			if unicode.IsControl(r) {
				return nil, ErrPathogenInvalidChars
			}
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if maxItems > 0 && len(out) > maxItems {
		return nil, ErrSelectionTooLarge
	}
	return out, nil
}

// ValidateMode parses the map mode. Empty means the default (scatter).
func ValidateMode(input string) (dashboard.Mode, error) {
	m, err := dashboard.ParseMode(input)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMode, err)
	}
	return m, nil
}

// ValidateTrigger parses the event trigger. Empty means load.
func ValidateTrigger(input string) (dashboard.EventKind, error) {
	k, err := dashboard.ParseEventKind(input)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	return k, nil
}
