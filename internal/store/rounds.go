package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"roundlottery/internal/models"

	"gorm.io/gorm"
)

// PayoutOutcome is the ledger result recorded on a drawn round.
type PayoutOutcome struct {
	Status models.PayoutStatus
	TxHash string
	Error  string
}

// WinnerPicker chooses a winner from the addresses entered in a round, in
// entry order. It must return models.NoWinner for an empty list.
type WinnerPicker func(addresses []string) (string, error)

// ActiveRound returns the single active round or ErrNotFound.
func (s *Store) ActiveRound(ctx context.Context) (*models.Round, error) {
	var round models.Round
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RoundActive).
		Order("id DESC").
		First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load active round: %w", err)
	}
	return &round, nil
}

// Round loads a round by id.
func (s *Store) Round(ctx context.Context, id uint64) (*models.Round, error) {
	return findRound(s.db.WithContext(ctx), id)
}

func findRound(db *gorm.DB, id uint64) (*models.Round, error) {
	var round models.Round
	if err := db.First(&round, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load round %d: %w", id, err)
	}
	return &round, nil
}

// CreateRound inserts a new active round. It fails with ErrActiveRoundExists
// when another active round is already present.
func (s *Store) CreateRound(ctx context.Context, start, end time.Time) (*models.Round, error) {
	round := &models.Round{
		StartTime: start,
		EndTime:   end,
		Status:    models.RoundActive,
	}
	if err := s.db.WithContext(ctx).Create(round).Error; err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, ErrActiveRoundExists
		}
		return nil, fmt.Errorf("create round: %w", err)
	}
	return round, nil
}

// CompletedRounds lists completed rounds, most recent first.
func (s *Store) CompletedRounds(ctx context.Context, limit int) ([]models.Round, error) {
	rounds := []models.Round{}
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RoundCompleted).
		Order("id DESC").
		Limit(limit).
		Find(&rounds).Error
	if err != nil {
		return nil, fmt.Errorf("list completed rounds: %w", err)
	}
	return rounds, nil
}

// ProcessingRounds lists rounds that have been claimed for a draw but not
// finalized yet.
func (s *Store) ProcessingRounds(ctx context.Context) ([]models.Round, error) {
	var rounds []models.Round
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RoundProcessing).
		Order("id").
		Find(&rounds).Error
	if err != nil {
		return nil, fmt.Errorf("list processing rounds: %w", err)
	}
	return rounds, nil
}

// AdjustPool adds the deltas to an active round's prize and bonus totals.
func (s *Store) AdjustPool(ctx context.Context, id uint64, prize, bonus int64) (*models.Round, error) {
	var round *models.Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Round{}).
			Where("id = ? AND status = ?", id, models.RoundActive).
			Where("prize_amount <= ? AND bonus_amount <= ?", poolHeadroom(prize), poolHeadroom(bonus)).
			UpdateColumns(map[string]any{
				"prize_amount": gorm.Expr("prize_amount + ?", prize),
				"bonus_amount": gorm.Expr("bonus_amount + ?", bonus),
			})
		if res.Error != nil {
			return fmt.Errorf("adjust pool of round %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return poolNotUpdated(tx, id)
		}
		var err error
		round, err = findRound(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// ClaimForDraw moves an expired active round to processing and records the
// winner chosen by pick from the round's frozen participant list, all in one
// transaction. claimed is false when the round had already left the active
// state; the returned round is then its current state.
func (s *Store) ClaimForDraw(ctx context.Context, id uint64, now time.Time, pick WinnerPicker) (round *models.Round, claimed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := findRound(tx, id)
		if err != nil {
			return err
		}
		if current.Status != models.RoundActive {
			round = current
			return nil
		}
		if !current.Expired(now) {
			return ErrRoundNotExpired
		}

		res := tx.Model(&models.Round{}).
			Where("id = ? AND status = ?", id, models.RoundActive).
			Updates(map[string]any{"status": models.RoundProcessing, "drawn_at": now})
		if res.Error != nil {
			return fmt.Errorf("claim round %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			// lost the race to another drawer
			round, err = findRound(tx, id)
			return err
		}

		var addresses []string
		err = tx.Model(&models.Participant{}).
			Where("round_id = ?", id).
			Order("id").
			Pluck("user_address", &addresses).Error
		if err != nil {
			return fmt.Errorf("load participants of round %d: %w", id, err)
		}

		winner, err := pick(addresses)
		if err != nil {
			return err
		}
		payout := models.PayoutPending
		if winner == models.NoWinner {
			payout = models.PayoutSkipped
		}
		err = tx.Model(&models.Round{}).
			Where("id = ?", id).
			Updates(map[string]any{"winner_address": winner, "payout_status": payout}).Error
		if err != nil {
			return fmt.Errorf("record winner of round %d: %w", id, err)
		}

		round, err = findRound(tx, id)
		claimed = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return round, claimed, nil
}

// FinalizeRound moves a processing round to completed with its payout
// outcome. finalized is false if the round was not processing anymore.
func (s *Store) FinalizeRound(ctx context.Context, id uint64, outcome PayoutOutcome, now time.Time) (round *models.Round, finalized bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Round{}).
			Where("id = ? AND status = ?", id, models.RoundProcessing).
			Updates(map[string]any{
				"status":         models.RoundCompleted,
				"payout_status":  outcome.Status,
				"payout_tx_hash": outcome.TxHash,
				"payout_error":   outcome.Error,
				"completed_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("finalize round %d: %w", id, res.Error)
		}
		finalized = res.RowsAffected > 0
		round, err = findRound(tx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return round, finalized, nil
}

// ClaimPayoutRetry marks a completed round whose payout failed or was left
// unconfirmed as retrying. Only one caller can hold the claim.
func (s *Store) ClaimPayoutRetry(ctx context.Context, id uint64) (*models.Round, error) {
	var round *models.Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Round{}).
			Where("id = ? AND status = ? AND payout_status IN ?", id, models.RoundCompleted,
				[]models.PayoutStatus{models.PayoutFailed, models.PayoutUnconfirmed}).
			Update("payout_status", models.PayoutRetrying)
		if res.Error != nil {
			return fmt.Errorf("claim payout retry for round %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			if _, err := findRound(tx, id); err != nil {
				return err
			}
			return ErrPayoutNotRetryable
		}
		var err error
		round, err = findRound(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// RecordPayoutRetry stores the outcome of a retried payout.
func (s *Store) RecordPayoutRetry(ctx context.Context, id uint64, outcome PayoutOutcome) (*models.Round, error) {
	var round *models.Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Round{}).
			Where("id = ? AND payout_status = ?", id, models.PayoutRetrying).
			Updates(map[string]any{
				"payout_status":  outcome.Status,
				"payout_tx_hash": outcome.TxHash,
				"payout_error":   outcome.Error,
			})
		if res.Error != nil {
			return fmt.Errorf("record payout retry for round %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrPayoutNotRetryable
		}
		var err error
		round, err = findRound(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// poolHeadroom is the largest pool total that can still grow by delta.
// Deltas are never negative.
func poolHeadroom(delta int64) int64 {
	return math.MaxInt64 - delta
}

// poolNotUpdated explains a guarded pool update that matched no row.
func poolNotUpdated(tx *gorm.DB, id uint64) error {
	round, err := findRound(tx, id)
	if err != nil {
		return err
	}
	if round.Status != models.RoundActive {
		return ErrRoundNotActive
	}
	return ErrPoolOverflow
}
