package services

import (
	"context"
	"strings"

	"roundlottery/internal/models"

	"github.com/google/logger"
)

// RegistrationResult is returned by a successful registration.
type RegistrationResult struct {
	ParticipantID uint64        `json:"id"`
	Round         *models.Round `json:"round"`
}

// Register enters userAddress into the round. The participant row and the
// prize pool increment commit together or not at all.
func (s *LotteryService) Register(ctx context.Context, roundID uint64, userAddress, txHash string) (*RegistrationResult, error) {
	result, err := s.register(ctx, roundID, userAddress, txHash)
	if err != nil {
		s.metrics.Registrations.WithLabelValues(string(CodeOf(err))).Inc()
		return nil, err
	}
	s.metrics.Registrations.WithLabelValues("ok").Inc()
	s.metrics.ActivePrize.Set(float64(result.Round.PrizeAmount))
	return result, nil
}

func (s *LotteryService) register(ctx context.Context, roundID uint64, userAddress, txHash string) (*RegistrationResult, error) {
	address := strings.ToLower(strings.TrimSpace(userAddress))
	txHash = strings.TrimSpace(txHash)
	if roundID == 0 || address == "" || txHash == "" {
		return nil, ErrMissingFields
	}
	if len(address) > models.MaxAddressLength || len(txHash) > models.MaxTxHashLength {
		return nil, ErrInvalidField
	}

	round, err := s.store.Round(ctx, roundID)
	if err != nil {
		return nil, fromStore("load round", err)
	}
	if round.Status != models.RoundActive {
		return nil, ErrRoundNotActive
	}

	exists, err := s.store.HasParticipant(ctx, roundID, address)
	if err != nil {
		return nil, storeFailure("look up participant", err)
	}
	if exists {
		return nil, ErrAlreadyParticipated
	}

	p := &models.Participant{
		RoundID:     roundID,
		UserAddress: address,
		TxHash:      txHash,
		CreatedAt:   s.now(),
	}
	updated, err := s.store.AddParticipant(ctx, p, s.opts.EntryIncrement)
	if err != nil {
		return nil, fromStore("register participant", err)
	}

	logger.Infof("Round %d: %s entered with tx %s, prize pool now %d", roundID, address, txHash, updated.PrizeAmount)
	return &RegistrationResult{ParticipantID: p.ID, Round: updated}, nil
}
