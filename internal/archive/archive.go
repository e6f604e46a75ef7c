// Package archive keeps a copy of every encoded artifact in S3-compatible storage.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"
)

// ObjectStore is the subset of object storage the archiver needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, data []byte) error
}

// Archiver writes artifacts under <prefix>/<feedType>/<yyyy>/<mm>/<dd>/<runID>.csv.
type Archiver struct {
	store  ObjectStore
	bucket string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	ensured bool
}

// New returns an archiver writing into bucket.
func New(store ObjectStore, bucket, prefix string) *Archiver {
	return &Archiver{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Key returns the object key for a run's artifact.
func (a *Archiver) Key(feedType, runID string, at time.Time) string {
	at = at.UTC()
	return path.Join(a.prefix, feedType, at.Format("2006"), at.Format("01"), at.Format("02"), runID+".csv")
}

// Archive uploads the artifact at localPath and returns its s3:// reference.
func (a *Archiver) Archive(ctx context.Context, feedType, runID, localPath string) (string, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket %s: %w", a.bucket, err)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	key := a.Key(feedType, runID, a.now())
	if err := a.store.PutObject(ctx, a.bucket, key, data); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// ensureBucket creates the bucket on first use; a failed attempt is retried by
// the next run.
func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ensured {
		return nil
	}
	if err := a.store.EnsureBucket(ctx, a.bucket); err != nil {
		return err
	}
	a.ensured = true
	return nil
}
