package cleanup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultInterval = time.Hour

type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

type MarkerSweeper interface {
	Sweep() int
}

// Job periodically expires stale sessions and drops lapsed revocation
// markers.
type Job struct {
	cleaner  SessionCleaner
	sweeper  MarkerSweeper
	logger   *zap.Logger
	interval time.Duration
}

func New(cleaner SessionCleaner, sweeper MarkerSweeper, logger *zap.Logger, interval time.Duration) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Job{
		cleaner:  cleaner,
		sweeper:  sweeper,
		logger:   logger,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled, running one pass per tick.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("session cleanup job started", zap.Duration("interval", j.interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single cleanup pass.
func (j *Job) RunOnce(ctx context.Context) {
	expired, err := j.cleaner.CleanupExpiredSessions(ctx)
	if err != nil {
		j.logger.Error("session cleanup pass failed", zap.Error(err))
	} else if expired > 0 {
		j.logger.Info("session cleanup pass finished", zap.Int("expired", expired))
	}

	if swept := j.sweeper.Sweep(); swept > 0 {
		j.logger.Info("revocation markers swept", zap.Int("removed", swept))
	}
}
