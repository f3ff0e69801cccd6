package server

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/newswire/internal/ingest"
)

// ErrRunInProgress is returned when a trigger overlaps a running ingestion.
// Overlapping triggers are dropped, never queued.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// Runner is the ingestion surface the scheduler drives.
type Runner interface {
	IngestAll(ctx context.Context) (ingest.RunStats, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// Scheduler runs ingestion on a fixed interval and cleanup on a cron spec.
// Each job is single-flight within the process via an atomic guard, and
// at-most-once across replicas via a redis SetNX lock when redis is
// configured.
type Scheduler struct {
	Runner      Runner
	Rdb         *redis.Client
	Interval    time.Duration
	CleanupCron string
	Retention   time.Duration
	Stop        chan struct{}

	ingesting atomic.Bool
	cleaning  atomic.Bool
	logger    *log.Logger
}

// NewScheduler wires a scheduler. rdb may be nil for single-replica setups.
func NewScheduler(runner Runner, rdb *redis.Client, interval time.Duration, cleanupCron string, retention time.Duration) *Scheduler {
	return &Scheduler{
		Runner:      runner,
		Rdb:         rdb,
		Interval:    interval,
		CleanupCron: cleanupCron,
		Retention:   retention,
		Stop:        make(chan struct{}),
		logger:      log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

// Start launches the ingestion and cleanup loops. Call Shutdown to stop them.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.Interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
	go s.cleanupLoop()
}

// Shutdown stops both loops. In-flight runs finish on their own.
func (s *Scheduler) Shutdown() {
	close(s.Stop)
}

func (s *Scheduler) tick() {
	stats, err := s.TriggerNow(context.Background())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Printf("tick skipped: previous run still in progress")
			return
		}
		s.logger.Printf("scheduled run failed: %v", err)
		return
	}
	ingestRunDuration.Observe(stats.Duration.Seconds())
}

// TriggerNow starts an ingestion run immediately, honoring the same
// single-flight guard as the ticker. Returns ErrRunInProgress when a run is
// already active on this replica or another one holds the lock.
func (s *Scheduler) TriggerNow(ctx context.Context) (ingest.RunStats, error) {
	if !s.ingesting.CompareAndSwap(false, true) {
		return ingest.RunStats{}, ErrRunInProgress
	}
	defer s.ingesting.Store(false)

	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, "newswire:lock:ingest", "1", s.Interval).Result()
		if err != nil {
			s.logger.Printf("redis lock unavailable, proceeding locally: %v", err)
		} else if !ok {
			return ingest.RunStats{}, ErrRunInProgress
		} else {
			defer s.Rdb.Del(context.Background(), "newswire:lock:ingest")
		}
	}

	stats, err := s.Runner.IngestAll(ctx)
	if err != nil {
		return stats, err
	}
	articlesIngested.Add(float64(stats.NewArticles))
	articlesDuplicate.Add(float64(stats.Duplicates))
	articlesFailed.Add(float64(stats.Errors))
	return stats, nil
}

func (s *Scheduler) cleanupLoop() {
	expr, err := cronexpr.Parse(s.CleanupCron)
	if err != nil {
		s.logger.Printf("invalid cleanup cron %q, falling back to daily: %v", s.CleanupCron, err)
		expr = cronexpr.MustParse("0 2 * * *")
	}
	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			return
		}
		select {
		case <-s.Stop:
			return
		case <-time.After(time.Until(next)):
			s.runCleanup()
		}
	}
}

func (s *Scheduler) runCleanup() {
	if !s.cleaning.CompareAndSwap(false, true) {
		s.logger.Printf("cleanup skipped: previous cleanup still in progress")
		return
	}
	defer s.cleaning.Store(false)

	ctx := context.Background()
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, "newswire:lock:cleanup", "1", time.Hour).Result()
		if err == nil && !ok {
			return
		}
		if err == nil {
			defer s.Rdb.Del(context.Background(), "newswire:lock:cleanup")
		}
	}

	if _, err := s.Runner.Cleanup(ctx, s.Retention); err != nil {
		s.logger.Printf("cleanup failed: %v", err)
	}
}
