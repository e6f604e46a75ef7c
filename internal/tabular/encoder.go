package tabular

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/incidentsync/internal/feed"
)

// EncodeError is returned when a batch cannot be rendered or persisted.
type EncodeError struct {
	Path  string
	Index int // record index, -1 when the failure is not record specific
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("encode record #%d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("write artifact %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Encoder renders records into the delimited exchange format.
type Encoder struct {
	Location       *time.Location
	DateTimeLayout string
}

// DefaultDateTimeLayout mirrors an en-US locale date-time ("11/10/2018 3:58:39 PM").
const DefaultDateTimeLayout = "1/2/2006 3:04:05 PM"

// NewEncoder returns an encoder rendering timestamps in loc (UTC when nil).
func NewEncoder(loc *time.Location, layout string) *Encoder {
	if loc == nil {
		loc = time.UTC
	}
	if layout == "" {
		layout = DefaultDateTimeLayout
	}
	return &Encoder{Location: loc, DateTimeLayout: layout}
}

// EncodeRow projects a record onto Columns. The record must carry a location.
func (e *Encoder) EncodeRow(r feed.Record) (string, error) {
	if r.Location == nil {
		return "", fmt.Errorf("record %q: location is required", r.UUID)
	}
	fields := make([]string, len(Columns))
	fields[colThumbsUp] = formatNumber(r.ThumbsUp)
	fields[colCity] = r.City
	fields[colReportRating] = formatNumber(r.ReportRating)
	fields[colConfidence] = formatNumber(r.Confidence)
	fields[colReliability] = formatNumber(r.Reliability)
	fields[colType] = r.Type
	fields[colUUID] = r.UUID
	fields[colMagvar] = formatNumber(r.Magvar)
	fields[colSubtype] = r.Subtype
	fields[colStreet] = quote(r.Street)
	fields[colReportDescription] = quote(r.ReportDescription)
	fields[colPubSeconds], fields[colPubDateTime] = e.publishColumns(r.PubMillis)
	fields[colLongitude] = formatNumber(r.Location.X)
	fields[colLatitude] = formatNumber(r.Location.Y)
	return strings.Join(fields, Delimiter), nil
}

// Encode renders the header followed by one row per record, in input order.
func (e *Encoder) Encode(records []feed.Record) (string, error) {
	var b strings.Builder
	b.WriteString(Header())
	b.WriteString("\n")
	for i, r := range records {
		row, err := e.EncodeRow(r)
		if err != nil {
			return "", &EncodeError{Index: i, Err: err}
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(row)
	}
	return b.String(), nil
}

// ArtifactPath is the artifact location for feedType inside dir.
func ArtifactPath(dir, feedType string) string {
	return filepath.Join(dir, fmt.Sprintf("feed-%s.csv", feedType))
}

// WriteArtifact encodes records and writes them to dir, replacing any previous
// artifact for the same feed type. It returns the artifact path.
func (e *Encoder) WriteArtifact(dir, feedType string, records []feed.Record) (string, error) {
	content, err := e.Encode(records)
	if err != nil {
		return "", err
	}
	path := ArtifactPath(dir, feedType)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", &EncodeError{Path: path, Index: -1, Err: err}
	}
	return path, nil
}

// Seconds converts epoch milliseconds to whole epoch seconds (floor).
func Seconds(millis int64) int64 {
	q := millis / 1000
	if millis%1000 < 0 {
		q--
	}
	return q
}

func (e *Encoder) publishColumns(millis *int64) (string, string) {
	if millis == nil {
		return "0", "0"
	}
	secs := strconv.FormatInt(Seconds(*millis), 10)
	dt := time.UnixMilli(*millis).In(e.Location).Format(e.DateTimeLayout)
	return secs, strings.ReplaceAll(dt, Delimiter, "")
}

func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func quote(s string) string {
	return Qualifier + strings.ReplaceAll(s, Qualifier, Qualifier+Qualifier) + Qualifier
}
