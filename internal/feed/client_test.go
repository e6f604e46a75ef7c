package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchParsesAlerts(t *testing.T) {
	var gotTypes, gotFormat, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTypes = r.URL.Query().Get("types")
		gotFormat = r.URL.Query().Get("format")
		gotHeader = r.Header.Get("X-Partner")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"alerts":[
			{"uuid":"a1","pubMillis":1600000000000,"location":{"x":10,"y":20}},
			{"uuid":"a2","city":"Austin"},
			{"uuid":"a3","nThumbsUp":4,"location":{"x":-97.7,"y":30.2}}
		],"jams":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/rtserver/web/TGeoRSS", map[string]string{"X-Partner": "p1"}, map[string]string{"format": "JSON"}, srv.Client(), nil)
	batch, err := c.Fetch(context.Background(), "alerts")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotTypes != "alerts" || gotFormat != "JSON" || gotHeader != "p1" {
		t.Fatalf("unexpected request: types=%q format=%q header=%q", gotTypes, gotFormat, gotHeader)
	}
	if len(batch.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(batch.Records))
	}
	if batch.Records[0].UUID != "a1" || batch.Records[1].UUID != "a3" {
		t.Fatalf("records out of order: %#v", batch.Records)
	}
	if batch.Records[0].PubMillis == nil || *batch.Records[0].PubMillis != 1600000000000 {
		t.Fatalf("unexpected pubMillis: %v", batch.Records[0].PubMillis)
	}
	if len(batch.Rejected) != 1 || batch.Rejected[0].Index != 1 {
		t.Fatalf("expected record #1 to be rejected, got %#v", batch.Rejected)
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil, srv.Client(), nil)
	_, err := c.Fetch(context.Background(), "alerts")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", fe.StatusCode)
	}
}

func TestFetchInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil, srv.Client(), nil)
	_, err := c.Fetch(context.Background(), "alerts")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.StatusCode != 0 {
		t.Fatalf("expected parse failure without status, got %d", fe.StatusCode)
	}
}

func TestParseMissingCollection(t *testing.T) {
	batch, err := Parse("alerts", []byte(`{"jams":[{"uuid":"j1"}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(batch.Records) != 0 || len(batch.Rejected) != 0 {
		t.Fatalf("expected empty batch, got %#v", batch)
	}
}
