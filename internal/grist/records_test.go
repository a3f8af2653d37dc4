package grist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/models"
)

func TestParseRecords_ProjectsFields(t *testing.T) {
	body := []byte(`{"records":[
		{"id":1,"fields":{"pathogen":"Flu","lat":10,"lon":20,"severity":3,"date":"2024-01-01","notes":"x"}},
		{"id":2,"fields":{"pathogen":"Covid","lat":"11.5","lon":"-21.25","severity":"4","date":1704153600}}
	]}`)

	records, dropped, err := parseRecords(body, CoordinatesTruthy)
	require.NoError(t, err)
	assert.Empty(t, dropped)
	assert.Equal(t, []models.Record{
		{Pathogen: "Flu", Lat: 10, Lon: 20, Severity: 3, Date: "2024-01-01"},
		{Pathogen: "Covid", Lat: 11.5, Lon: -21.25, Severity: 4, Date: "2024-01-02"},
	}, records)
}

// A record is kept iff both lat and lon are present and truthy.
func TestParseRecords_TruthyCoordinateRule(t *testing.T) {
	tests := []struct {
		name   string
		fields string
		keep   bool
	}{
		{"both present", `{"lat":1,"lon":2}`, true},
		{"lat zero", `{"lat":0,"lon":2}`, false},
		{"lon zero", `{"lat":1,"lon":0}`, false},
		{"lat null", `{"lat":null,"lon":2}`, false},
		{"lon missing", `{"lat":1}`, false},
		{"lat empty string", `{"lat":"","lon":2}`, false},
		{"lat string zero", `{"lat":"0","lon":2}`, true},
		{"lon string zero float", `{"lat":1,"lon":"0.0"}`, true},
		{"lat float zero", `{"lat":0.0,"lon":2}`, false},
		{"lat not numeric", `{"lat":"north","lon":2}`, false},
		{"lat bool", `{"lat":true,"lon":2}`, false},
		{"negative coordinates", `{"lat":-33.9,"lon":-70.6}`, true},
		{"other fields irrelevant", `{"lat":1,"lon":2,"pathogen":null,"severity":"bad"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"records":[{"id":1,"fields":` + tt.fields + `}]}`)
			records, dropped, err := parseRecords(body, CoordinatesTruthy)
			require.NoError(t, err)
			if tt.keep {
				assert.Len(t, records, 1)
				assert.Zero(t, dropped[dropMissingCoordinates])
			} else {
				assert.Empty(t, records)
				assert.Equal(t, 1, dropped[dropMissingCoordinates])
			}
		})
	}
}

func TestParseRecords_PresentPolicyKeepsZero(t *testing.T) {
	body := []byte(`{"records":[
		{"fields":{"pathogen":"Cholera","lat":0,"lon":0,"severity":2}},
		{"fields":{"pathogen":"Cholera","lat":null,"lon":0}}
	]}`)

	records, dropped, err := parseRecords(body, CoordinatesPresent)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.Record{Pathogen: "Cholera", Severity: 2}, records[0])
	assert.Equal(t, 1, dropped[dropMissingCoordinates])
}

func TestParseRecords_MissingFieldsDropped(t *testing.T) {
	body := []byte(`{"records":[{"id":1},{"id":2,"fields":{"lat":1,"lon":1}}]}`)

	records, dropped, err := parseRecords(body, CoordinatesTruthy)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, dropped[dropMissingFields])
}

func TestParseRecords_MalformedEntryDroppedAlone(t *testing.T) {
	tests := []struct {
		name string
		bad  string
	}{
		{"fields is a string", `{"id":2,"fields":"oops"}`},
		{"fields is an array", `{"id":2,"fields":[1,2]}`},
		{"entry is a number", `7`},
		{"entry is a string", `"row"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"records":[{"id":1,"fields":{"pathogen":"Flu","lat":10,"lon":20}},` + tt.bad + `]}`)

			records, dropped, err := parseRecords(body, CoordinatesTruthy)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "Flu", records[0].Pathogen)
			assert.Equal(t, 1, dropped[dropMalformedEntry])
		})
	}
}

func TestParseRecords_DefaultsForOptionalFields(t *testing.T) {
	body := []byte(`{"records":[{"fields":{"lat":1,"lon":2}}]}`)

	records, _, err := parseRecords(body, CoordinatesTruthy)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.Record{Lat: 1, Lon: 2}, records[0])
}

func TestParseRecords_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing records key", `{"rows":[]}`},
		{"records not a list", `{"records":"nope"}`},
		{"top level array", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseRecords([]byte(tt.body), CoordinatesTruthy)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestParseRecords_EmptyList(t *testing.T) {
	records, _, err := parseRecords([]byte(`{"records":[]}`), CoordinatesTruthy)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestParseCoordinatePolicy(t *testing.T) {
	p, err := ParseCoordinatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, CoordinatesTruthy, p)

	p, err = ParseCoordinatePolicy(" Present ")
	require.NoError(t, err)
	assert.Equal(t, CoordinatesPresent, p)

	_, err = ParseCoordinatePolicy("lenient")
	assert.Error(t, err)
}
