package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/logger"
)

// Scheduler periodically advances expired rounds and makes sure a round is
// always open. Ticks may overlap with other schedulers or manual advances;
// AdvanceRound is idempotent, so that is safe.
type Scheduler struct {
	service  *LotteryService
	interval time.Duration
}

// NewScheduler creates a scheduler that ticks every interval.
func NewScheduler(service *LotteryService, interval time.Duration) *Scheduler {
	return &Scheduler{service: service, interval: interval}
}

// Run ticks immediately and then on every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("Round scheduler started, checking every %s", s.interval)
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Round scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		logger.Errorf("Scheduler tick failed: %v", err)
	}
}

// Tick runs one scheduling pass: recover stuck draws, advance the active
// round if it expired, then ensure an active round exists.
func (s *Scheduler) Tick(ctx context.Context) error {
	if n, err := s.service.RecoverStaleDraws(ctx); err != nil {
		logger.Errorf("Stale draw recovery failed: %v", err)
	} else if n > 0 {
		logger.Warningf("Recovered %d stale draws", n)
	}

	if _, err := s.service.AdvanceExpiredRound(ctx); err != nil {
		return fmt.Errorf("advance round: %w", err)
	}
	if _, err := s.service.GetOrCreateActiveRound(ctx); err != nil {
		return fmt.Errorf("ensure active round: %w", err)
	}
	return nil
}
