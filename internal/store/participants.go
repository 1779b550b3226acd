package store

import (
	"context"
	"fmt"

	"roundlottery/internal/models"

	"gorm.io/gorm"
)

// HasParticipant reports whether address already entered the round.
func (s *Store) HasParticipant(ctx context.Context, roundID uint64, address string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("round_id = ? AND user_address = ?", roundID, address).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("look up participant: %w", err)
	}
	return count > 0, nil
}

// AddParticipant inserts the participant and grows the round's prize pool by
// increment in a single transaction. Either both happen or neither does.
func (s *Store) AddParticipant(ctx context.Context, p *models.Participant, increment int64) (*models.Round, error) {
	var round *models.Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The update runs first so the round row is locked for the rest of
		// the transaction and a concurrent draw claim waits for us.
		res := tx.Model(&models.Round{}).
			Where("id = ? AND status = ? AND prize_amount <= ?", p.RoundID, models.RoundActive, poolHeadroom(increment)).
			UpdateColumn("prize_amount", gorm.Expr("prize_amount + ?", increment))
		if res.Error != nil {
			return fmt.Errorf("grow prize pool of round %d: %w", p.RoundID, res.Error)
		}
		if res.RowsAffected == 0 {
			return poolNotUpdated(tx, p.RoundID)
		}

		if err := tx.Omit("Round").Create(p).Error; err != nil {
			if conflict := participantConflict(err); conflict != nil {
				return conflict
			}
			return fmt.Errorf("insert participant: %w", err)
		}

		var err error
		round, err = findRound(tx, p.RoundID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// CountParticipants returns how many addresses entered the round.
func (s *Store) CountParticipants(ctx context.Context, roundID uint64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("round_id = ?", roundID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}

// RecentParticipants returns the latest entries of a round, newest first.
func (s *Store) RecentParticipants(ctx context.Context, roundID uint64, limit int) ([]models.Participant, error) {
	var participants []models.Participant
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("id DESC").
		Limit(limit).
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}
