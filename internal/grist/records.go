package grist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/models"
)

// CoordinatePolicy decides which lat/lon values count as present.
type CoordinatePolicy string

const (
	// CoordinatesTruthy drops null, missing, empty-string and numeric zero coordinates.
	// A numeric string such as "0" is kept.
	CoordinatesTruthy CoordinatePolicy = "truthy"
	// CoordinatesPresent drops only null, missing and non-numeric coordinates; 0 is kept.
	CoordinatesPresent CoordinatePolicy = "present"
)

// ParseCoordinatePolicy returns the policy named by s. Empty means CoordinatesTruthy.
func ParseCoordinatePolicy(s string) (CoordinatePolicy, error) {
	switch CoordinatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CoordinatesTruthy:
		return CoordinatesTruthy, nil
	case CoordinatesPresent:
		return CoordinatesPresent, nil
	}
	return "", fmt.Errorf("coordinate policy must be truthy or present, got %q", s)
}

// Drop reasons used as metric labels.
const (
	dropMissingFields      = "missing_fields"
	dropMissingCoordinates = "missing_coordinates"
	dropMalformedEntry     = "malformed_entry"
)

type recordsResponse struct {
	Records *[]json.RawMessage `json:"records"`
}

type recordEntry struct {
	ID     int64                      `json:"id"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// parseRecords decodes a Grist records payload. A body that is not JSON or has no
// records list returns ErrMalformedPayload. Entries that do not decode or fail the
// coordinate policy are dropped and counted in dropped by reason.
func parseRecords(body []byte, policy CoordinatePolicy) ([]models.Record, map[string]int, error) {
	var resp recordsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("%w: parse response: %v", ErrMalformedPayload, err)
	}
	if resp.Records == nil {
		return nil, nil, fmt.Errorf("%w: response has no records list", ErrMalformedPayload)
	}

	dropped := make(map[string]int)
	out := make([]models.Record, 0, len(*resp.Records))
	for _, raw := range *resp.Records {
		var entry recordEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			dropped[dropMalformedEntry]++
			continue
		}
		if entry.Fields == nil {
			dropped[dropMissingFields]++
			continue
		}
		lat, ok := parseCoordinate(entry.Fields["lat"], policy)
		if !ok {
			dropped[dropMissingCoordinates]++
			continue
		}
		lon, ok := parseCoordinate(entry.Fields["lon"], policy)
		if !ok {
			dropped[dropMissingCoordinates]++
			continue
		}
		severity, _ := parseNumber(entry.Fields["severity"])
		out = append(out, models.Record{
			Pathogen: parseText(entry.Fields["pathogen"]),
			Lat:      lat,
			Lon:      lon,
			Severity: severity,
			Date:     parseDate(entry.Fields["date"]),
		})
	}
	return out, dropped, nil
}

func parseCoordinate(raw json.RawMessage, policy CoordinatePolicy) (float64, bool) {
	v, ok := parseNumber(raw)
	if !ok {
		return 0, false
	}
	if policy != CoordinatesPresent && v == 0 && !isJSONString(raw) {
		return 0, false
	}
	return v, true
}

func isJSONString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

// parseNumber accepts JSON numbers and numeric strings. Null, empty, NaN and
// infinities are reported as absent.
func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		n, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func parseText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// parseDate renders Grist Date columns (epoch seconds) as YYYY-MM-DD; text passes through.
func parseDate(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	var secs float64
	if len(raw) > 0 && raw[0] != '"' && json.Unmarshal(raw, &secs) == nil && !bytes.Equal(raw, []byte("null")) {
		return time.Unix(int64(secs), 0).UTC().Format("2006-01-02")
	}
	return parseText(raw)
}
