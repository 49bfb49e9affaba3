package scheduler

import (
	"context"
	"time"
)

// Sweep deletes run records older than the retention window
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	return s.store.CleanupRuns(ctx, cutoff)
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Errorw("Retention sweep failed", "error", err)
		return
	}
	s.logger.Infow("Retention sweep finished", "deleted", n, "days", s.cfg.RetentionDays)
}
