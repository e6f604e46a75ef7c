package feed

import "fmt"

// Location is a WGS84 point as published by the feed (x = longitude, y = latitude).
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Record is a single incident from the feed. Optional numeric and string fields
// decode to their zero values when absent; PubMillis and Location keep pointers
// so absence can be told apart from zero.
type Record struct {
	ThumbsUp          float64   `json:"nThumbsUp"`
	City              string    `json:"city"`
	ReportRating      float64   `json:"reportRating"`
	Confidence        float64   `json:"confidence"`
	Reliability       float64   `json:"reliability"`
	Type              string    `json:"type"`
	UUID              string    `json:"uuid"`
	Magvar            float64   `json:"magvar"`
	Subtype           string    `json:"subtype"`
	Street            string    `json:"street"`
	ReportDescription string    `json:"reportDescription"`
	PubMillis         *int64    `json:"pubMillis,omitempty"`
	Location          *Location `json:"location,omitempty"`
}

// Validate reports whether the record can be projected onto the tabular schema.
func (r Record) Validate() error {
	if r.Location == nil {
		return fmt.Errorf("record %q has no location", r.UUID)
	}
	return nil
}

// Rejected pairs a record dropped at the parsing boundary with the reason.
type Rejected struct {
	Index  int
	Record Record
	Reason string
}

// Batch is the parsed result of one feed fetch.
type Batch struct {
	FeedType string
	Records  []Record
	Rejected []Rejected
}
