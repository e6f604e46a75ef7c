package featurestore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mohammad-safakhou/incidentsync/internal/tabular"
)

// FieldMapping maps a CSV column onto a layer field.
type FieldMapping struct {
	Source string `json:"source"`
	Name   string `json:"name"`
}

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID       int `json:"wkid"`
	LatestWKID int `json:"latestWkid"`
}

// WGS84 is EPSG:4326.
var WGS84 = SpatialReference{WKID: 4326, LatestWKID: 4326}

// AppendSourceInfo describes the staged CSV to the append operation.
type AppendSourceInfo struct {
	Type               string           `json:"type"`
	UseBulkInserts     bool             `json:"useBulkInserts"`
	SourceURL          string           `json:"sourceUrl"`
	LocationType       string           `json:"locationType"`
	LongitudeFieldName string           `json:"longitudeFieldName"`
	LatitudeFieldName  string           `json:"latitudeFieldName"`
	ColumnDelimiter    string           `json:"columnDelimiter"`
	Qualifier          string           `json:"qualifier"`
	SourceSR           SpatialReference `json:"sourceSR"`
}

// IdentityMappings maps every schema column onto a field of the same name.
func IdentityMappings(columns []string) []FieldMapping {
	out := make([]FieldMapping, 0, len(columns))
	for _, c := range columns {
		out = append(out, FieldMapping{Source: c, Name: c})
	}
	return out
}

// CSVSourceInfo is the source descriptor for artifacts produced by tabular.
func CSVSourceInfo() AppendSourceInfo {
	return AppendSourceInfo{
		Type:               "csv",
		UseBulkInserts:     true,
		LocationType:       "coordinates",
		LongitudeFieldName: tabular.LongitudeField,
		LatitudeFieldName:  tabular.LatitudeField,
		ColumnDelimiter:    tabular.Delimiter,
		Qualifier:          tabular.Qualifier,
		SourceSR:           WGS84,
	}
}

func appendFields(itemID string, token Token) ([]formField, error) {
	mappings, err := json.Marshal(IdentityMappings(tabular.Columns))
	if err != nil {
		return nil, err
	}
	source, err := json.Marshal(CSVSourceInfo())
	if err != nil {
		return nil, err
	}
	return []formField{
		{"f", "json"},
		{"fieldMappings", string(mappings)},
		{"appendSourceInfo", string(source)},
		{"upsert", "true"},
		{"skipInserts", "false"},
		{"skipUpdates", "false"},
		{"useGlobalIds", "false"},
		{"updateGeometry", "true"},
		{"upsertMatchingField", tabular.MatchField},
		{"appendUploadId", itemID},
		{"appendUploadFormat", "csv"},
		{"rollbackOnFailure", "false"},
		{"token", token.AccessToken},
	}, nil
}

// Append starts an asynchronous upsert of the staged item, matched on uuid, and
// returns the job's status URL. The job is not polled.
func (c *Client) Append(ctx context.Context, itemID string, token Token) (string, error) {
	fields, err := appendFields(itemID, token)
	if err != nil {
		return "", &MergeError{Err: err}
	}
	body, err := c.postMultipart(ctx, c.AppendURL(), fields, nil)
	if err != nil {
		return "", &MergeError{Transport: true, Err: err}
	}
	var resp struct {
		envelope
		StatusURL string `json:"statusUrl"`
	}
	if err := decode(body, &resp); err != nil {
		return "", &MergeError{Err: err}
	}
	if resp.StatusURL == "" {
		if resp.Error != nil {
			return "", &MergeError{Err: resp.Error}
		}
		return "", &MergeError{Err: errors.New("response carried no statusUrl")}
	}
	return resp.StatusURL, nil
}
