package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/incidentsync/internal/feed"
)

// DecodeRow parses one encoded row back into a record. The date-time column is
// derived data and only used to tell an absent publish time from epoch zero.
func DecodeRow(line string) (feed.Record, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = len(Columns)
	fields, err := r.Read()
	if err != nil {
		return feed.Record{}, fmt.Errorf("decode row: %w", err)
	}

	var rec feed.Record
	nums := []struct {
		col int
		dst *float64
	}{
		{colThumbsUp, &rec.ThumbsUp},
		{colReportRating, &rec.ReportRating},
		{colConfidence, &rec.Confidence},
		{colReliability, &rec.Reliability},
		{colMagvar, &rec.Magvar},
	}
	for _, n := range nums {
		v, err := strconv.ParseFloat(fields[n.col], 64)
		if err != nil {
			return feed.Record{}, fmt.Errorf("decode %s: %w", Columns[n.col], err)
		}
		*n.dst = v
	}
	rec.City = fields[colCity]
	rec.Type = fields[colType]
	rec.UUID = fields[colUUID]
	rec.Subtype = fields[colSubtype]
	rec.Street = fields[colStreet]
	rec.ReportDescription = fields[colReportDescription]

	secs, err := strconv.ParseInt(fields[colPubSeconds], 10, 64)
	if err != nil {
		return feed.Record{}, fmt.Errorf("decode %s: %w", Columns[colPubSeconds], err)
	}
	if !(secs == 0 && fields[colPubDateTime] == "0") {
		millis := secs * 1000
		rec.PubMillis = &millis
	}

	x, err := strconv.ParseFloat(fields[colLongitude], 64)
	if err != nil {
		return feed.Record{}, fmt.Errorf("decode %s: %w", LongitudeField, err)
	}
	y, err := strconv.ParseFloat(fields[colLatitude], 64)
	if err != nil {
		return feed.Record{}, fmt.Errorf("decode %s: %w", LatitudeField, err)
	}
	rec.Location = &feed.Location{X: x, Y: y}
	return rec, nil
}

// DecodeArtifact reads an encoded artifact, verifies the header and returns the
// raw rows and the decoded records in file order.
func DecodeArtifact(r io.Reader) ([]string, []feed.Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("empty artifact")
	}
	if got := sc.Text(); got != Header() {
		return nil, nil, fmt.Errorf("unexpected header %q", got)
	}
	var rows []string
	var records []feed.Record
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rec, err := DecodeRow(line)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, line)
		records = append(records, rec)
	}
	return rows, records, sc.Err()
}
