package services

import (
	"context"
	"errors"
	"time"

	"roundlottery/internal/models"
	"roundlottery/internal/store"

	"github.com/google/logger"
)

// createAttempts bounds the read/create loop when concurrent creators race.
const createAttempts = 3

// ParticipantView is the public slice of a participant shown with a round.
type ParticipantView struct {
	UserAddress string    `json:"user_address"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoundView is the active round with its participation summary.
type RoundView struct {
	models.Round
	ParticipantCount   int64             `json:"participant_count"`
	RecentParticipants []ParticipantView `json:"recent_participants"`
}

// GetOrCreateActiveRound returns the active round, starting one if none is
// active. When two callers race to create, the store's single-active
// constraint rejects one and that caller reads the winner's round.
func (s *LotteryService) GetOrCreateActiveRound(ctx context.Context) (*models.Round, error) {
	for range createAttempts {
		round, err := s.store.ActiveRound(ctx)
		if err == nil {
			return round, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, storeFailure("load active round", err)
		}

		now := s.now()
		round, err = s.store.CreateRound(ctx, now, now.Add(s.opts.RoundWindow))
		if err == nil {
			logger.Infof("Started round %d, ends at %s", round.ID, round.EndTime.Format(time.RFC3339))
			s.metrics.ActivePrize.Set(0)
			return round, nil
		}
		if !errors.Is(err, store.ErrActiveRoundExists) {
			return nil, storeFailure("create round", err)
		}
	}
	return nil, storeFailure("create round", errors.New("active round kept changing"))
}

// CurrentRound returns the active round with its participant count and the
// most recent entries.
func (s *LotteryService) CurrentRound(ctx context.Context) (*RoundView, error) {
	round, err := s.GetOrCreateActiveRound(ctx)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountParticipants(ctx, round.ID)
	if err != nil {
		return nil, storeFailure("count participants", err)
	}
	recent, err := s.store.RecentParticipants(ctx, round.ID, s.opts.RecentParticipants)
	if err != nil {
		return nil, storeFailure("list participants", err)
	}

	view := &RoundView{
		Round:              *round,
		ParticipantCount:   count,
		RecentParticipants: make([]ParticipantView, 0, len(recent)),
	}
	for _, p := range recent {
		view.RecentParticipants = append(view.RecentParticipants, ParticipantView{UserAddress: p.UserAddress, CreatedAt: p.CreatedAt})
	}
	return view, nil
}

// ListCompletedRounds returns finished rounds, most recent first. A
// non-positive limit uses the configured history size.
func (s *LotteryService) ListCompletedRounds(ctx context.Context, limit int) ([]models.Round, error) {
	if limit <= 0 {
		limit = s.opts.HistoryLimit
	}
	rounds, err := s.store.CompletedRounds(ctx, limit)
	if err != nil {
		return nil, storeFailure("list completed rounds", err)
	}
	return rounds, nil
}

// AdjustPrizePool tops up an active round's prize and bonus totals. Only
// additions are accepted.
func (s *LotteryService) AdjustPrizePool(ctx context.Context, roundID uint64, prize, bonus int64) (*models.Round, error) {
	if prize < 0 || bonus < 0 {
		return nil, ErrInvalidAmount
	}
	round, err := s.store.AdjustPool(ctx, roundID, prize, bonus)
	if err != nil {
		return nil, fromStore("adjust prize pool", err)
	}
	logger.Infof("Round %d pool adjusted by prize=%d bonus=%d, now prize=%d bonus=%d",
		roundID, prize, bonus, round.PrizeAmount, round.BonusAmount)
	s.metrics.ActivePrize.Set(float64(round.PrizeAmount))
	return round, nil
}
