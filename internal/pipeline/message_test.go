package pipeline

import (
	"errors"
	"testing"

	"github.com/mohammad-safakhou/incidentsync/internal/featurestore"
)

func TestAppendMessage(t *testing.T) {
	ok := AppendResult{ItemID: "U1", StatusURL: "https://store/jobs/123", Token: featurestore.Token{AccessToken: "T"}}
	want := `[U1] Append complete: <a href="https://store/jobs/123?token=T" target="_blank">result</a>`
	if got := ok.Message(); got != want {
		t.Fatalf("unexpected message:\n got %s\nwant %s", got, want)
	}

	failed := AppendResult{ItemID: "U1", Err: &StageError{Stage: StageMerge, Err: errors.New("rejected")}}
	if got := failed.Message(); got != "Append complete" {
		t.Fatalf("failure must render the generic message, got %q", got)
	}

	unsupported := AppendResult{FeedType: "<script>alert(1)</script>", Err: ErrUnsupportedFeed}
	if got := unsupported.Message(); got != "Not querying: Waze data" {
		t.Fatalf("unexpected unsupported message %q", got)
	}
}

func TestDeleteMessage(t *testing.T) {
	if got := (DeleteResult{Deleted: 3}).Message(); got != "Delete complete: 3 rows deleted." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := (DeleteResult{Err: errors.New("boom")}).Message(); got != "Delete complete" {
		t.Fatalf("unexpected failure message %q", got)
	}
}
