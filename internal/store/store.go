package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store persists sync run history in Postgres. It satisfies pipeline.Recorder.
type Store struct {
	DB *sql.DB
}

var _ pipeline.Recorder = (*Store)(nil)

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 50

var (
	metricsOnce    sync.Once
	historyWrites  otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	historyWrites, metricsInitErr = meter.Int64Counter("sync_run_history_writes_total")
}

func recordWrite(ctx context.Context, op string, err error) {
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr != nil || historyWrites == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	historyWrites.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// StartRun inserts a run in its running state.
func (s *Store) StartRun(ctx context.Context, run pipeline.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id must be provided")
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sync_runs (id, flow, feed_type, status, started_at) VALUES ($1,$2,$3,$4,$5)`,
		run.ID, string(run.Flow), nullString(run.FeedType), run.Status, run.StartedAt)
	recordWrite(ctx, "start", err)
	return err
}

// FinishRun records the outcome of a run started with StartRun.
func (s *Store) FinishRun(ctx context.Context, run pipeline.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id must be provided")
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sync_runs SET status=$2, stage=$3, item_id=$4, status_url=$5, records=$6, rejected=$7, deleted=$8, error=$9, finished_at=$10 WHERE id=$1`,
		run.ID, run.Status, nullString(string(run.Stage)), nullString(run.ItemID), nullString(run.StatusURL),
		run.Records, run.Rejected, run.Deleted, nullString(run.Error), nullTime(run.FinishedAt))
	if err == nil {
		var n int64
		if n, err = res.RowsAffected(); err == nil && n == 0 {
			err = fmt.Errorf("run %s not found", run.ID)
		}
	}
	recordWrite(ctx, "finish", err)
	return err
}

// RunFilter narrows ListRuns. Zero values mean no filtering.
type RunFilter struct {
	Flow  pipeline.Flow
	Limit int
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]pipeline.Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	const cols = `id, flow, feed_type, status, stage, item_id, status_url, records, rejected, deleted, error, started_at, finished_at`
	var (
		rows *sql.Rows
		err  error
	)
	if f.Flow != "" {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+cols+` FROM sync_runs WHERE flow=$1 ORDER BY started_at DESC LIMIT $2`, string(f.Flow), limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+cols+` FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.Run
	for rows.Next() {
		var (
			r                                      pipeline.Run
			flow                                   string
			feedType, stage, itemID, statusURL, ev sql.NullString
			finished                               sql.NullTime
		)
		if err := rows.Scan(&r.ID, &flow, &feedType, &r.Status, &stage, &itemID, &statusURL,
			&r.Records, &r.Rejected, &r.Deleted, &ev, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		r.Flow = pipeline.Flow(flow)
		r.FeedType = feedType.String
		r.Stage = pipeline.Stage(stage.String)
		r.ItemID = itemID.String
		r.StatusURL = statusURL.String
		r.Error = ev.String
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRunTime returns when the most recent run of flow started. ok is false
// when the flow has never run.
func (s *Store) LatestRunTime(ctx context.Context, flow pipeline.Flow) (t time.Time, ok bool, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT started_at FROM sync_runs WHERE flow=$1 ORDER BY started_at DESC LIMIT 1`, string(flow)).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// PruneRunsBefore deletes history older than cutoff and returns the number of rows removed.
func (s *Store) PruneRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff must be provided")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sync_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
