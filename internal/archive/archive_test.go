package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammad-safakhou/incidentsync/config"
)

type memStore struct {
	ensured int
	ensure  error
	objects map[string][]byte
}

func (m *memStore) EnsureBucket(context.Context, string) error {
	m.ensured++
	return m.ensure
}

func (m *memStore) PutObject(_ context.Context, bucket, key string, data []byte) error {
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[bucket+"/"+key] = data
	return nil
}

func TestArchiveWritesDatedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed-alerts.csv")
	if err := os.WriteFile(path, []byte("header\nrow"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ms := &memStore{}
	a := New(ms, "incidents", "/feeds/")
	a.now = func() time.Time { return time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC) }

	ref, err := a.Archive(context.Background(), "alerts", "run-1", path)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if ref != "s3://incidents/feeds/alerts/2024/03/09/run-1.csv" {
		t.Fatalf("unexpected ref %s", ref)
	}
	if string(ms.objects["incidents/feeds/alerts/2024/03/09/run-1.csv"]) != "header\nrow" {
		t.Fatalf("object not stored: %#v", ms.objects)
	}
	if _, err := a.Archive(context.Background(), "alerts", "run-2", path); err != nil {
		t.Fatalf("second Archive: %v", err)
	}
	if ms.ensured != 1 {
		t.Fatalf("bucket must be ensured once, got %d", ms.ensured)
	}
}

func TestArchiveBucketFailure(t *testing.T) {
	a := New(&memStore{ensure: errors.New("denied")}, "incidents", "")
	if _, err := a.Archive(context.Background(), "alerts", "run-1", "unused"); err == nil {
		t.Fatal("expected bucket error")
	}
}

func TestArchiveMissingArtifact(t *testing.T) {
	a := New(&memStore{}, "incidents", "")
	if _, err := a.Archive(context.Background(), "alerts", "run-1", filepath.Join(t.TempDir(), "gone.csv")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestNewS3StoreRequiresEndpoint(t *testing.T) {
	if _, err := NewS3Store(config.S3Config{}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewS3Store(config.S3Config{Endpoint: "https://minio.local:9000", AccessKeyID: "a", SecretAccessKey: "b"}); err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
}
