package models

import "time"

// Record is one geotagged pathogen observation projected from a Grist row.
type Record struct {
	Pathogen string  `json:"pathogen"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Severity float64 `json:"severity"`
	Date     string  `json:"date"`
}

// Dataset is the full record set of one Grist fetch.
type Dataset struct {
	Records   []Record  `json:"records"`
	FetchedAt time.Time `json:"fetchedAt"`
	Stale     bool      `json:"stale,omitempty"` // served from stale cache after an upstream failure
}
