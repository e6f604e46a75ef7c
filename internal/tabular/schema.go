package tabular

import "strings"

// Columns is the fixed column order of the exchange format. The feature layer's
// field mappings are derived from it, so order and names must not drift.
var Columns = []string{
	"nThumbsUp",
	"city",
	"reportRating",
	"confidence",
	"reliability",
	"type",
	"uuid",
	"magvar",
	"subtype",
	"street",
	"reportDescription",
	"pubMillis",
	"pubMillis_dt",
	"longitude",
	"latitude",
}

// Column indexes into Columns.
const (
	colThumbsUp = iota
	colCity
	colReportRating
	colConfidence
	colReliability
	colType
	colUUID
	colMagvar
	colSubtype
	colStreet
	colReportDescription
	colPubSeconds
	colPubDateTime
	colLongitude
	colLatitude
)

const (
	// Delimiter separates columns.
	Delimiter = ","
	// Qualifier wraps the free-text columns.
	Qualifier = `"`

	LongitudeField = "longitude"
	LatitudeField  = "latitude"
	MatchField     = "uuid"
	PublishField   = "pubMillis"
)

// Header returns the header line (without trailing newline).
func Header() string { return strings.Join(Columns, Delimiter) }
