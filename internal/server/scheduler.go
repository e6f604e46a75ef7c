package server

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
	"github.com/redis/go-redis/v9"
)

// Locker guards one cron slot of a job across replicas. Locks are never released;
// they expire after ttl.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RunHistory reports when a flow last started.
type RunHistory interface {
	LatestRunTime(ctx context.Context, flow pipeline.Flow) (time.Time, bool, error)
}

// HistoryPruner removes run history older than a cutoff.
type HistoryPruner interface {
	PruneRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RedisLocker implements Locker with SET NX.
type RedisLocker struct {
	Rdb    *redis.Client
	Prefix string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{Rdb: rdb, Prefix: "incidentsync:sched:lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.Rdb.SetNX(ctx, l.Prefix+key, "1", ttl).Result()
}

// SchedulerOptions configures NewScheduler.
type SchedulerOptions struct {
	FeedTypes  []string
	AppendCron string
	DeleteCron string
	Tick       time.Duration
	LockTTL    time.Duration
	// HistoryRetention bounds run history; zero keeps everything.
	HistoryRetention time.Duration
}

type job struct {
	key      string
	flow     pipeline.Flow
	feedType string
	expr     *cronexpr.Expression
}

// Scheduler fires the append flow for every feed type and the delete flow on their
// cron schedules. Jobs run one at a time.
type Scheduler struct {
	Flows   Flows
	Locker  Locker
	History RunHistory
	Pruner  HistoryPruner
	Logger  *log.Logger

	jobs      []job
	tick      time.Duration
	lockTTL   time.Duration
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewScheduler parses both cron expressions up front.
func NewScheduler(flows Flows, opts SchedulerOptions) (*Scheduler, error) {
	appendExpr, err := cronexpr.Parse(opts.AppendCron)
	if err != nil {
		return nil, fmt.Errorf("scheduler.append_cron: %w", err)
	}
	deleteExpr, err := cronexpr.Parse(opts.DeleteCron)
	if err != nil {
		return nil, fmt.Errorf("scheduler.delete_cron: %w", err)
	}
	s := &Scheduler{
		Flows:     flows,
		Logger:    log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		tick:      opts.Tick,
		lockTTL:   opts.LockTTL,
		retention: opts.HistoryRetention,
		now:       time.Now,
		last:      make(map[string]time.Time),
	}
	if s.tick <= 0 {
		s.tick = 30 * time.Second
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 5 * time.Minute
	}
	for _, t := range opts.FeedTypes {
		s.jobs = append(s.jobs, job{key: "append:" + t, flow: pipeline.FlowAppend, feedType: t, expr: appendExpr})
	}
	s.jobs = append(s.jobs, job{key: "delete", flow: pipeline.FlowDelete, expr: deleteExpr})
	return s, nil
}

// Start runs the ticker until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	go func() {
		defer ticker.Stop()
		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Tick runs every job that is due. It holds the scheduler lock for the whole pass
// so append and delete never overlap.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		now := s.now()
		slot, ok := dueSlot(j.expr, s.lastRun(ctx, j), now)
		if !ok {
			continue
		}
		// one lock per cron slot; whoever wins it runs the slot, everyone else skips it
		if s.Locker != nil {
			key := j.key + ":" + strconv.FormatInt(slot.Unix(), 10)
			ok, err := s.Locker.Acquire(ctx, key, s.slotTTL(j, slot, now))
			if err != nil {
				s.Logger.Printf("lock %s: %v", key, err)
				continue
			}
			if !ok {
				s.last[j.key] = slot
				continue
			}
		}
		s.run(ctx, j)
		s.last[j.key] = slot
	}
}

// slotTTL keeps a slot lock at least until the following slot so a replica that
// starts late cannot run it again.
func (s *Scheduler) slotTTL(j job, slot, now time.Time) time.Duration {
	ttl := s.lockTTL
	if next := j.expr.Next(slot); !next.IsZero() {
		if d := next.Sub(now); d > ttl {
			ttl = d
		}
	}
	return ttl
}

func (s *Scheduler) run(ctx context.Context, j job) {
	switch j.flow {
	case pipeline.FlowAppend:
		res := s.Flows.Append(ctx, j.feedType)
		if res.Err != nil {
			s.Logger.Printf("append %s failed at %s: %v", j.feedType, res.Stage, res.Err)
			return
		}
		s.Logger.Printf("append %s: item %s, %d records", j.feedType, res.ItemID, res.Records)
	case pipeline.FlowDelete:
		res := s.Flows.Delete(ctx)
		if res.Err != nil {
			s.Logger.Printf("delete failed at %s: %v", res.Stage, res.Err)
			return
		}
		s.Logger.Printf("delete: %d rows", res.Deleted)
		s.pruneHistory(ctx)
	}
}

func (s *Scheduler) pruneHistory(ctx context.Context) {
	if s.Pruner == nil || s.retention <= 0 {
		return
	}
	n, err := s.Pruner.PruneRunsBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.Logger.Printf("prune history: %v", err)
		return
	}
	if n > 0 {
		s.Logger.Printf("pruned %d history rows", n)
	}
}

// lastRun is the later of the in-process record and persisted history. History is
// per flow rather than per feed type.
func (s *Scheduler) lastRun(ctx context.Context, j job) *time.Time {
	var last *time.Time
	if t, ok := s.last[j.key]; ok {
		last = &t
	}
	if s.History == nil {
		return last
	}
	t, ok, err := s.History.LatestRunTime(ctx, j.flow)
	if err != nil {
		s.Logger.Printf("history %s: %v", j.flow, err)
		return last
	}
	if ok && (last == nil || t.After(*last)) {
		last = &t
	}
	return last
}

// maxLookback bounds the search for the latest activation of a job that never ran.
const maxLookback = 2 * 366 * 24 * time.Hour

// dueSlot returns the latest activation at or before now that comes after last.
// A job that never ran is due for its most recent activation.
func dueSlot(expr *cronexpr.Expression, last *time.Time, now time.Time) (time.Time, bool) {
	var start time.Time
	for d := time.Minute; d <= maxLookback; d *= 2 {
		if n := expr.Next(now.Add(-d)); !n.IsZero() && !n.After(now) {
			start = now.Add(-d)
			break
		}
	}
	if start.IsZero() {
		return time.Time{}, false
	}
	if last != nil && last.After(start) {
		start = *last
	}
	slot := expr.Next(start)
	if slot.IsZero() || slot.After(now) {
		return time.Time{}, false
	}
	for {
		n := expr.Next(slot)
		if n.IsZero() || n.After(now) {
			return slot, true
		}
		slot = n
	}
}
