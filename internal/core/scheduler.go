package core

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DailyResetScheduler applies the day rollover to the quota counter at the
// configured time of day (midnight local by default). GetState already rolls
// over lazily; the job only brings the stored state up to date without
// waiting for a read. A run on a day whose counter is already current leaves
// it alone, so late or extra runs never grant a second quota.
type DailyResetScheduler struct {
	cron   *cron.Cron
	quota  *QuotaTracker
	logger *zap.Logger
}

// NewDailyResetScheduler accepts a six-field cron spec (seconds first).
func NewDailyResetScheduler(quota *QuotaTracker, spec string, logger *zap.Logger) (*DailyResetScheduler, error) {
	s := &DailyResetScheduler{
		cron:   cron.New(cron.WithSeconds()),
		quota:  quota,
		logger: logger.Named("scheduler"),
	}
	if _, err := s.cron.AddFunc(spec, s.resetQuota); err != nil {
		return nil, fmt.Errorf("invalid daily reset schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *DailyResetScheduler) resetQuota() {
	if err := s.quota.rollover(context.Background()); err != nil {
		s.logger.Warn("scheduled quota rollover failed", zap.Error(err))
		return
	}
	s.logger.Info("daily quota rollover checked")
}

// Run blocks until ctx is done, then waits for a running job to finish.
func (s *DailyResetScheduler) Run(ctx context.Context) error {
	s.cron.Start()
	if next := s.cron.Entries(); len(next) > 0 {
		s.logger.Info("daily reset scheduled", zap.Time("next", next[0].Next))
	}
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
