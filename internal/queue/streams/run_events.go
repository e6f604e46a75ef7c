package streams

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
)

// Event types emitted for pipeline runs.
const (
	EventRunStarted  = "sync.run.started"
	EventRunFinished = "sync.run.finished"
	runEventVersion  = "v1"
)

// DefaultRunStream is where run events land unless configured otherwise.
const DefaultRunStream = "incidentsync:runs"

// RunEvent is the payload of run events.
type RunEvent struct {
	RunID      string     `json:"run_id"`
	Flow       string     `json:"flow"`
	FeedType   string     `json:"feed_type,omitempty"`
	Status     string     `json:"status"`
	Stage      string     `json:"stage,omitempty"`
	ItemID     string     `json:"item_id,omitempty"`
	StatusURL  string     `json:"status_url,omitempty"`
	Records    int        `json:"records"`
	Rejected   int        `json:"rejected"`
	Deleted    int        `json:"deleted"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func runEvent(run pipeline.Run) RunEvent {
	ev := RunEvent{
		RunID:     run.ID,
		Flow:      string(run.Flow),
		FeedType:  run.FeedType,
		Status:    run.Status,
		Stage:     string(run.Stage),
		ItemID:    run.ItemID,
		StatusURL: run.StatusURL,
		Records:   run.Records,
		Rejected:  run.Rejected,
		Deleted:   run.Deleted,
		Error:     run.Error,
		StartedAt: run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		t := run.FinishedAt
		ev.FinishedAt = &t
	}
	return ev
}

// RunEvents publishes run lifecycle events. It satisfies pipeline.Recorder.
type RunEvents struct {
	Publisher *Publisher
}

var _ pipeline.Recorder = (*RunEvents)(nil)

func (r *RunEvents) StartRun(ctx context.Context, run pipeline.Run) error {
	return r.publish(ctx, EventRunStarted, run)
}

func (r *RunEvents) FinishRun(ctx context.Context, run pipeline.Run) error {
	return r.publish(ctx, EventRunFinished, run)
}

func (r *RunEvents) publish(ctx context.Context, eventType string, run pipeline.Run) error {
	env, err := NewEnvelope(ctx, eventType, runEventVersion, runEvent(run))
	if err != nil {
		return err
	}
	_, err = r.Publisher.Publish(ctx, env)
	return err
}
