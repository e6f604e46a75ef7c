package featurestore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/incidentsync/internal/tabular"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{
		OAuth2URL:        srv.URL + "/sharing/rest/oauth2/token/",
		ClientID:         "id",
		ClientSecret:     "secret",
		FeatureServerURL: srv.URL + "/FeatureServer/",
	}, srv.Client())
	return c, srv
}

func TestIssueToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("expiration") != "1440" {
			t.Fatalf("unexpected form: %v", r.PostForm)
		}
		if r.PostForm.Get("client_id") != "id" || r.PostForm.Get("client_secret") != "secret" || r.PostForm.Get("f") != "json" {
			t.Fatalf("unexpected credentials: %v", r.PostForm)
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":86400}`))
	})
	tok, err := c.IssueToken(context.Background())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if tok.AccessToken != "tok" || tok.ExpiresIn != 86400 {
		t.Fatalf("unexpected token: %#v", tok)
	}
}

func TestIssueTokenMissingToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Invalid client_id"}}`))
	})
	_, err := c.IssueToken(context.Background())
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid client_id") {
		t.Fatalf("expected service message in error, got %v", err)
	}
}

func TestIssueTokenTransportFailure(t *testing.T) {
	c := New(Config{OAuth2URL: "http://127.0.0.1:1/token"}, nil)
	_, err := c.IssueToken(context.Background())
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed-alerts.csv")
	if err := os.WriteFile(path, []byte(tabular.Header()+"\n"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func TestUploadSuccess(t *testing.T) {
	path := writeArtifact(t)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/FeatureServer/uploads/upload" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("token") != "tok" || r.FormValue("f") != "json" {
			t.Fatalf("unexpected fields: %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("csv_file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		if hdr.Filename != "feed-alerts.csv" || !strings.HasPrefix(string(b), "nThumbsUp,") {
			t.Fatalf("unexpected file %s: %q", hdr.Filename, b)
		}
		_, _ = w.Write([]byte(`{"success":true,"item":{"itemID":"U1","itemName":"feed-alerts.csv"}}`))
	})
	id, err := c.Upload(context.Background(), path, Token{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if id != "U1" {
		t.Fatalf("expected U1, got %s", id)
	}
}

func TestUploadRejected(t *testing.T) {
	path := writeArtifact(t)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":498,"message":"Invalid token."}}`))
	})
	_, err := c.Upload(context.Background(), path, Token{AccessToken: "bad"})
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if ue.Message != "Invalid token." || ue.Err != nil {
		t.Fatalf("unexpected upload error: %#v", ue)
	}
}

func TestUploadMissingFile(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), Token{AccessToken: "tok"})
	var ue *UploadError
	if !errors.As(err, &ue) || ue.Err == nil {
		t.Fatalf("expected UploadError with cause, got %v", err)
	}
}

func TestAppendSendsUpsertOptions(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/FeatureServer/0/append" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		want := map[string]string{
			"f":                   "json",
			"upsert":              "true",
			"skipInserts":         "false",
			"skipUpdates":         "false",
			"useGlobalIds":        "false",
			"updateGeometry":      "true",
			"upsertMatchingField": "uuid",
			"appendUploadId":      "U1",
			"appendUploadFormat":  "csv",
			"rollbackOnFailure":   "false",
			"token":               "tok",
		}
		for k, v := range want {
			if got := r.FormValue(k); got != v {
				t.Fatalf("field %s: expected %q, got %q", k, v, got)
			}
		}
		var mappings []FieldMapping
		if err := json.Unmarshal([]byte(r.FormValue("fieldMappings")), &mappings); err != nil {
			t.Fatalf("fieldMappings: %v", err)
		}
		if len(mappings) != len(tabular.Columns) {
			t.Fatalf("expected %d mappings, got %d", len(tabular.Columns), len(mappings))
		}
		for i, m := range mappings {
			if m.Source != tabular.Columns[i] || m.Name != tabular.Columns[i] {
				t.Fatalf("mapping %d not identity: %#v", i, m)
			}
		}
		var info AppendSourceInfo
		if err := json.Unmarshal([]byte(r.FormValue("appendSourceInfo")), &info); err != nil {
			t.Fatalf("appendSourceInfo: %v", err)
		}
		if info.Type != "csv" || !info.UseBulkInserts || info.LocationType != "coordinates" ||
			info.LongitudeFieldName != "longitude" || info.LatitudeFieldName != "latitude" ||
			info.ColumnDelimiter != "," || info.Qualifier != `"` || info.SourceSR.WKID != 4326 {
			t.Fatalf("unexpected source info: %#v", info)
		}
		_, _ = w.Write([]byte(`{"statusUrl":"https://store/jobs/123"}`))
	})
	status, err := c.Append(context.Background(), "U1", Token{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if status != "https://store/jobs/123" {
		t.Fatalf("unexpected status url %s", status)
	}
}

func TestAppendWithoutStatusURL(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Unable to append"}}`))
	})
	_, err := c.Append(context.Background(), "U1", Token{AccessToken: "tok"})
	var me *MergeError
	if !errors.As(err, &me) {
		t.Fatalf("expected MergeError, got %v", err)
	}
	if me.Transport {
		t.Fatalf("service rejection must not be flagged as transport")
	}
}

func TestAppendTransportFailure(t *testing.T) {
	c := New(Config{FeatureServerURL: "http://127.0.0.1:1/FeatureServer"}, nil)
	_, err := c.Append(context.Background(), "U1", Token{AccessToken: "tok"})
	var me *MergeError
	if !errors.As(err, &me) || !me.Transport {
		t.Fatalf("expected transport MergeError, got %v", err)
	}
}

func TestCutoffAndPredicate(t *testing.T) {
	now := time.UnixMilli(1700000000999)
	cutoff := Cutoff(now, DefaultRetention)
	if cutoff != 1700000000-259200 {
		t.Fatalf("unexpected cutoff %d", cutoff)
	}
	if got := Predicate("pubMillis", cutoff); got != "pubMillis <= 1699740800" {
		t.Fatalf("unexpected predicate %q", got)
	}
}

func TestPruneReportsDeletedCount(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/FeatureServer/0/deleteFeatures" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("where"); got != "pubMillis <= 1699740800" {
			t.Fatalf("unexpected where %q", got)
		}
		_, _ = w.Write([]byte(`{"deleteResults":[{"objectId":1,"success":true},{"objectId":2,"success":true},{"objectId":3,"success":true}]}`))
	})
	n, err := NewPruner(c, "", 0).Prune(context.Background(), Token{AccessToken: "tok"}, now)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
}

func TestPruneEmptyResults(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"deleteResults":[]}`))
	})
	_, err := NewPruner(c, "", 0).Prune(context.Background(), Token{AccessToken: "tok"}, time.Now())
	var pe *PruneError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PruneError, got %v", err)
	}
	if pe.Body != `{"deleteResults":[]}` {
		t.Fatalf("expected raw body in error, got %q", pe.Body)
	}
}
