// Package pipeline sequences the append (fetch, encode, authenticate, upload,
// merge) and delete (authenticate, prune) flows.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/incidentsync/internal/featurestore"
	"github.com/mohammad-safakhou/incidentsync/internal/feed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FeedSource fetches and parses one feed type.
type FeedSource interface {
	Fetch(ctx context.Context, feedType string) (feed.Batch, error)
}

// ArtifactWriter renders records into an artifact inside dir and returns its path.
type ArtifactWriter interface {
	WriteArtifact(dir, feedType string, records []feed.Record) (string, error)
}

// CredentialIssuer obtains a short-lived token.
type CredentialIssuer interface {
	IssueToken(ctx context.Context) (featurestore.Token, error)
}

// Uploader stages an artifact and returns its item id.
type Uploader interface {
	Upload(ctx context.Context, path string, token featurestore.Token) (string, error)
}

// Merger starts the upsert of a staged item and returns the job status URL.
type Merger interface {
	Append(ctx context.Context, itemID string, token featurestore.Token) (string, error)
}

// Pruner deletes expired features and returns how many were removed.
type Pruner interface {
	Prune(ctx context.Context, token featurestore.Token, now time.Time) (int, error)
}

// Recorder persists run history. Failures are logged and never affect a flow.
type Recorder interface {
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
}

// Archiver keeps a copy of an artifact and returns a reference to it.
type Archiver interface {
	Archive(ctx context.Context, feedType, runID, path string) (string, error)
}

// Config is injected at construction; nothing is read from globals.
type Config struct {
	FeedTypes   []string
	ArtifactDir string
	Now         func() time.Time
}

// Deps are the stage implementations. Recorder and Archiver are optional.
type Deps struct {
	Feed     FeedSource
	Encoder  ArtifactWriter
	Issuer   CredentialIssuer
	Uploader Uploader
	Merger   Merger
	Pruner   Pruner
	Recorder Recorder
	Archiver Archiver
	Logger   *log.Logger
}

// Pipeline runs the flows. It holds no per-run state and is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *log.Logger
	tracer trace.Tracer
}

// New validates deps and returns a pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Feed == nil || deps.Encoder == nil || deps.Issuer == nil || deps.Uploader == nil || deps.Merger == nil || deps.Pruner == nil {
		return nil, fmt.Errorf("pipeline: every stage implementation is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = os.TempDir()
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logger, tracer: otel.Tracer("incidentsync/pipeline")}, nil
}

// Supports reports whether feedType is in the configured list.
func (p *Pipeline) Supports(feedType string) bool {
	for _, t := range p.cfg.FeedTypes {
		if t == feedType {
			return true
		}
	}
	return false
}

// FeedTypes returns the accepted feed types.
func (p *Pipeline) FeedTypes() []string { return append([]string(nil), p.cfg.FeedTypes...) }

// Run is the history entry of one flow execution.
type Run struct {
	ID         string
	Flow       Flow
	FeedType   string
	Status     string
	Stage      Stage
	ItemID     string
	StatusURL  string
	Records    int
	Rejected   int
	Deleted    int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// AppendResult is the outcome of an append flow. Err is nil on success and a
// *StageError (or ErrUnsupportedFeed) otherwise.
type AppendResult struct {
	RunID      string
	FeedType   string
	Records    int
	Rejected   int
	ItemID     string
	StatusURL  string
	Token      featurestore.Token
	ArchiveRef string
	Stage      Stage
	Err        error
}

// OK reports full success.
func (r AppendResult) OK() bool { return r.Err == nil }

// DeleteResult is the outcome of a delete flow.
type DeleteResult struct {
	RunID   string
	Deleted int
	Stage   Stage
	Err     error
}

// OK reports full success.
func (r DeleteResult) OK() bool { return r.Err == nil }

// stageRun executes fn inside a span and records its duration.
func (p *Pipeline) stageRun(ctx context.Context, flow Flow, stage Stage, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, string(flow)+"."+string(stage), trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()
	started := time.Now()
	err := fn(ctx)
	recordStage(ctx, flow, stage, time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// Append runs fetch -> encode -> authenticate -> upload -> merge. The first failing
// stage ends the flow.
func (p *Pipeline) Append(ctx context.Context, feedType string) AppendResult {
	res := AppendResult{FeedType: feedType}
	if !p.Supports(feedType) {
		res.Err = ErrUnsupportedFeed
		return res
	}
	res.RunID = uuid.NewString()
	run := Run{ID: res.RunID, Flow: FlowAppend, FeedType: feedType, Status: RunStatusRunning, StartedAt: p.cfg.Now().UTC()}
	p.startRun(ctx, run)
	defer func() {
		run.Stage = res.Stage
		run.ItemID = res.ItemID
		run.StatusURL = res.StatusURL
		run.Records = res.Records
		run.Rejected = res.Rejected
		p.finishRun(ctx, run, res.Err)
		recordRun(ctx, FlowAppend, res.Stage, res.Err)
	}()

	var dir string
	defer func() {
		if dir != "" {
			_ = os.RemoveAll(dir)
		}
	}()

	var batch feed.Batch
	res.Stage = StageFetch
	if res.Err = p.stageRun(ctx, FlowAppend, StageFetch, func(ctx context.Context) error {
		var err error
		batch, err = p.deps.Feed.Fetch(ctx, feedType)
		return err
	}); res.Err != nil {
		return res
	}
	res.Records, res.Rejected = len(batch.Records), len(batch.Rejected)
	recordRecords(ctx, feedType, res.Records, res.Rejected)

	var path string
	res.Stage = StageEncode
	if res.Err = p.stageRun(ctx, FlowAppend, StageEncode, func(ctx context.Context) error {
		// per-run scratch space; concurrent runs never share an artifact path
		var err error
		if dir, err = os.MkdirTemp(p.cfg.ArtifactDir, "run-"+res.RunID+"-"); err != nil {
			dir = ""
			return err
		}
		path, err = p.deps.Encoder.WriteArtifact(dir, feedType, batch.Records)
		return err
	}); res.Err != nil {
		return res
	}
	if p.deps.Archiver != nil {
		ref, err := p.deps.Archiver.Archive(ctx, feedType, res.RunID, path)
		if err != nil {
			p.logger.Printf("run %s: archive artifact: %v", res.RunID, err)
		}
		res.ArchiveRef = ref
	}

	res.Stage = StageAuthenticate
	if res.Err = p.stageRun(ctx, FlowAppend, StageAuthenticate, func(ctx context.Context) error {
		var err error
		res.Token, err = p.deps.Issuer.IssueToken(ctx)
		return err
	}); res.Err != nil {
		return res
	}

	res.Stage = StageUpload
	if res.Err = p.stageRun(ctx, FlowAppend, StageUpload, func(ctx context.Context) error {
		var err error
		res.ItemID, err = p.deps.Uploader.Upload(ctx, path, res.Token)
		return err
	}); res.Err != nil {
		return res
	}

	res.Stage = StageMerge
	res.Err = p.stageRun(ctx, FlowAppend, StageMerge, func(ctx context.Context) error {
		var err error
		res.StatusURL, err = p.deps.Merger.Append(ctx, res.ItemID, res.Token)
		return err
	})
	return res
}

// Delete runs authenticate -> prune.
func (p *Pipeline) Delete(ctx context.Context) DeleteResult {
	res := DeleteResult{RunID: uuid.NewString()}
	run := Run{ID: res.RunID, Flow: FlowDelete, Status: RunStatusRunning, StartedAt: p.cfg.Now().UTC()}
	p.startRun(ctx, run)
	defer func() {
		run.Stage = res.Stage
		run.Deleted = res.Deleted
		p.finishRun(ctx, run, res.Err)
		recordRun(ctx, FlowDelete, res.Stage, res.Err)
	}()

	var token featurestore.Token
	res.Stage = StageAuthenticate
	if res.Err = p.stageRun(ctx, FlowDelete, StageAuthenticate, func(ctx context.Context) error {
		var err error
		token, err = p.deps.Issuer.IssueToken(ctx)
		return err
	}); res.Err != nil {
		return res
	}

	res.Stage = StagePrune
	res.Err = p.stageRun(ctx, FlowDelete, StagePrune, func(ctx context.Context) error {
		var err error
		res.Deleted, err = p.deps.Pruner.Prune(ctx, token, p.cfg.Now())
		return err
	})
	return res
}

func (p *Pipeline) startRun(ctx context.Context, run Run) {
	if p.deps.Recorder == nil {
		return
	}
	if err := p.deps.Recorder.StartRun(ctx, run); err != nil {
		p.logger.Printf("run %s: record start: %v", run.ID, err)
	}
}

func (p *Pipeline) finishRun(ctx context.Context, run Run, err error) {
	run.FinishedAt = p.cfg.Now().UTC()
	run.Status = RunStatusSucceeded
	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err.Error()
		p.logger.Printf("run %s (%s %s) failed: %v", run.ID, run.Flow, run.FeedType, err)
	}
	if p.deps.Recorder == nil {
		return
	}
	if rerr := p.deps.Recorder.FinishRun(ctx, run); rerr != nil {
		p.logger.Printf("run %s: record finish: %v", run.ID, rerr)
	}
}

// Recorders fans run history out to several recorders. Every recorder is called;
// the first error is returned.
type Recorders []Recorder

func (rs Recorders) StartRun(ctx context.Context, run Run) error {
	var first error
	for _, r := range rs {
		if err := r.StartRun(ctx, run); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (rs Recorders) FinishRun(ctx context.Context, run Run) error {
	var first error
	for _, r := range rs {
		if err := r.FinishRun(ctx, run); err != nil && first == nil {
			first = err
		}
	}
	return first
}
