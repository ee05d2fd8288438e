// Package scheduler runs the engine's periodic jobs: pruning expired cache
// entries and refreshing tracked issuers from the filing source.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/finmetrics/grounding/internal/service"
)

// Pruner drops expired cache entries and reports how many were removed.
type Pruner interface {
	PruneCache() int
}

// Refresher re-ingests a list of issuers.
type Refresher interface {
	RefreshIssuers(ctx context.Context, issuerIDs []string) []service.IngestReport
}

// Config selects the job schedules. An empty schedule disables that job.
type Config struct {
	PruneSchedule   string
	RefreshSchedule string
	TrackedIssuers  []string
	RefreshTimeout  time.Duration
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron      *cron.Cron
	pruners   []Pruner
	refresher Refresher
	issuers   []string
	timeout   time.Duration
	logger    *log.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the configured jobs. It fails on an unparseable schedule.
func New(cfg Config, pruners []Pruner, refresher Refresher, logger *log.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{logger}),
			cron.Recover(cronLogger{logger}),
		)),
		pruners:   pruners,
		refresher: refresher,
		issuers:   cfg.TrackedIssuers,
		timeout:   cfg.RefreshTimeout,
		logger:    logger.WithPrefix("scheduler"),
		ctx:       ctx,
		cancel:    cancel,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Minute
	}

	if cfg.PruneSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.PruneSchedule, s.Prune); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
		}
	}
	if cfg.RefreshSchedule != "" && len(cfg.TrackedIssuers) > 0 && refresher != nil {
		if _, err := s.cron.AddFunc(cfg.RefreshSchedule, s.Refresh); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshSchedule, err)
		}
	}
	return s, nil
}

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.logger.Info("starting", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop cancels a running refresh and waits for running jobs to return or
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prune drops expired entries from every cache.
func (s *Scheduler) Prune() {
	removed := 0
	for _, p := range s.pruners {
		removed += p.PruneCache()
	}
	s.logger.Debug("pruned caches", "removed", removed)
}

// Refresh re-ingests the tracked issuers.
func (s *Scheduler) Refresh() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	reports := s.refresher.RefreshIssuers(ctx, s.issuers)
	inserted := 0
	for _, r := range reports {
		inserted += r.Inserted
	}
	s.logger.Info("refreshed tracked issuers",
		"tracked", len(s.issuers),
		"succeeded", len(reports),
		"inserted", inserted,
		"duration", time.Since(start))
}

// cronLogger adapts the process logger to cron.Logger.
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
