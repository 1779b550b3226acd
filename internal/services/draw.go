package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"roundlottery/internal/alert"
	"roundlottery/internal/ledger"
	"roundlottery/internal/models"
	"roundlottery/internal/store"

	"github.com/google/logger"
)

// DrawResult reports the state of a round after AdvanceRound. Advanced is
// false when the round had already been advanced by another caller.
type DrawResult struct {
	Round    *models.Round `json:"round"`
	Advanced bool          `json:"advanced"`
}

// AdvanceRound draws the winner of an expired round, pays the prize and
// completes the round. Repeated or concurrent calls for the same round
// converge on one draw; callers that did not perform it get Advanced=false.
func (s *LotteryService) AdvanceRound(ctx context.Context, roundID uint64) (*DrawResult, error) {
	ran := false
	v, err, _ := s.draws.Do(strconv.FormatUint(roundID, 10), func() (any, error) {
		ran = true
		// followers share this call, so it must not end with the leader's request
		return s.advanceRound(context.WithoutCancel(ctx), roundID)
	})
	if err != nil {
		return nil, err
	}
	result := *v.(*DrawResult)
	if !ran {
		result.Advanced = false
	}
	return &result, nil
}

func (s *LotteryService) advanceRound(ctx context.Context, roundID uint64) (*DrawResult, error) {
	round, err := s.store.Round(ctx, roundID)
	if err != nil {
		return nil, fromStore("load round", err)
	}
	if round.Status != models.RoundActive {
		s.metrics.Draws.WithLabelValues("noop").Inc()
		return &DrawResult{Round: round}, nil
	}
	now := s.now()
	if !round.Expired(now) {
		return nil, ErrRoundNotExpired
	}

	claimed, ok, err := s.store.ClaimForDraw(ctx, roundID, now, s.pickWinner)
	if err != nil {
		return nil, fromStore("claim round", err)
	}
	if !ok {
		s.metrics.Draws.WithLabelValues("noop").Inc()
		return &DrawResult{Round: claimed}, nil
	}
	logger.Infof("Round %d drawn, winner: %s, prize: %d", roundID, claimed.Winner(), claimed.PrizeAmount)

	// The draw is committed; shutting down must not abandon the payout.
	ctx = context.WithoutCancel(ctx)
	outcome := s.payout(ctx, claimed)

	final, finalized, err := s.store.FinalizeRound(ctx, roundID, outcome, s.now())
	if err != nil {
		logger.Errorf("Round %d payout finished as %s (tx %q) but finalize failed: %v",
			roundID, outcome.Status, outcome.TxHash, err)
		return nil, storeFailure("finalize round", err)
	}
	if !finalized {
		logger.Warningf("Round %d was finalized by the recovery sweep before its drawer", roundID)
	}

	if claimed.Winner() == models.NoWinner {
		s.metrics.Draws.WithLabelValues("empty").Inc()
	} else {
		s.metrics.Draws.WithLabelValues("drawn").Inc()
	}
	logger.Infof("Round %d completed, winner: %s, payout: %s", roundID, final.Winner(), final.PayoutStatus)
	return &DrawResult{Round: final, Advanced: true}, nil
}

// AdvanceExpiredRound advances the active round if its window has elapsed.
// It returns nil when there is nothing to advance.
func (s *LotteryService) AdvanceExpiredRound(ctx context.Context) (*DrawResult, error) {
	round, err := s.store.ActiveRound(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeFailure("load active round", err)
	}
	if !round.Expired(s.now()) {
		return nil, nil
	}
	return s.AdvanceRound(ctx, round.ID)
}

// pickWinner selects one address uniformly at random.
func (s *LotteryService) pickWinner(addresses []string) (string, error) {
	if len(addresses) == 0 {
		return models.NoWinner, nil
	}
	i, err := s.randIndex(len(addresses))
	if err != nil {
		return "", fmt.Errorf("draw random index: %w", err)
	}
	return addresses[i], nil
}

// payout transfers the round's prize to its winner. Failures are reported to
// operators and recorded, never returned: the draw stands either way.
func (s *LotteryService) payout(ctx context.Context, round *models.Round) store.PayoutOutcome {
	winner := round.Winner()
	if winner == models.NoWinner {
		return store.PayoutOutcome{Status: models.PayoutSkipped}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.PayoutTimeout)
	defer cancel()

	amount := ledger.ToSmallestUnit(round.PrizeAmount, s.ledger.Decimals())
	logger.Infof("Round %d: transferring %d tokens (%s base units) to %s", round.ID, round.PrizeAmount, amount, winner)
	receipt, err := s.ledger.Transfer(ctx, winner, amount)
	if err != nil {
		status := models.PayoutFailed
		txHash := ledger.Broadcast(err)
		if txHash != "" {
			// sent but not confirmed; it may still be mined
			status = models.PayoutUnconfirmed
		}
		logger.Errorf("Round %d: transfer to %s %s: %v", round.ID, winner, status, err)
		s.metrics.Payouts.WithLabelValues(string(status)).Inc()
		s.reportPayoutIssue(ctx, round, status, err.Error())
		return store.PayoutOutcome{Status: status, TxHash: txHash, Error: err.Error()}
	}

	logger.Infof("Round %d: transfer confirmed, tx %s", round.ID, receipt.TxHash)
	s.metrics.Payouts.WithLabelValues(string(models.PayoutPaid)).Inc()
	return store.PayoutOutcome{Status: models.PayoutPaid, TxHash: receipt.TxHash}
}

func (s *LotteryService) reportPayoutIssue(ctx context.Context, round *models.Round, status models.PayoutStatus, reason string) {
	issue := alert.PayoutIssue{
		RoundID: round.ID,
		Winner:  round.Winner(),
		Amount:  round.PrizeAmount,
		Status:  string(status),
		Reason:  reason,
	}
	// the transfer may have used up ctx's deadline
	if err := s.notifier.PayoutIssue(context.WithoutCancel(ctx), issue); err != nil {
		logger.Errorf("Could not notify operators about round %d: %v", round.ID, err)
	}
}

// RetryPayout re-attempts the transfer of a completed round whose payout
// failed or was left unconfirmed.
func (s *LotteryService) RetryPayout(ctx context.Context, roundID uint64) (*models.Round, error) {
	round, err := s.store.ClaimPayoutRetry(ctx, roundID)
	if err != nil {
		return nil, fromStore("claim payout retry", err)
	}
	logger.Infof("Retrying payout of round %d to %s", roundID, round.Winner())

	ctx = context.WithoutCancel(ctx)
	outcome, resend := s.checkBroadcast(ctx, round)
	if resend {
		outcome = s.payout(ctx, round)
	}
	updated, err := s.store.RecordPayoutRetry(ctx, roundID, outcome)
	if err != nil {
		logger.Errorf("Round %d retry finished as %s (tx %q) but could not be recorded: %v",
			roundID, outcome.Status, outcome.TxHash, err)
		return nil, fromStore("record payout retry", err)
	}
	if updated.PayoutStatus == models.PayoutUnconfirmed {
		return updated, &Error{Code: CodePayoutPending, Message: ErrPayoutPending.Message, Err: errors.New(outcome.Error)}
	}
	return updated, nil
}

// checkBroadcast looks up the transfer already sent for round, if any.
// resend is true only when no earlier transfer can have moved the funds.
func (s *LotteryService) checkBroadcast(ctx context.Context, round *models.Round) (outcome store.PayoutOutcome, resend bool) {
	if round.PayoutTxHash == "" {
		return store.PayoutOutcome{}, true
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.PayoutTimeout)
	defer cancel()

	receipt, err := s.ledger.Receipt(ctx, round.PayoutTxHash)
	var lerr *ledger.Error
	switch {
	case err == nil:
		logger.Infof("Round %d: earlier transfer %s was mined, not resending", round.ID, receipt.TxHash)
		s.metrics.Payouts.WithLabelValues(string(models.PayoutPaid)).Inc()
		return store.PayoutOutcome{Status: models.PayoutPaid, TxHash: receipt.TxHash}, false
	case errors.As(err, &lerr) && lerr.TxHash == "":
		// reverted: the earlier transfer moved nothing
		logger.Warningf("Round %d: earlier transfer %s failed (%v), resending", round.ID, round.PayoutTxHash, err)
		return store.PayoutOutcome{}, true
	default:
		logger.Warningf("Round %d: earlier transfer %s still unconfirmed: %v", round.ID, round.PayoutTxHash, err)
		return store.PayoutOutcome{
			Status: models.PayoutUnconfirmed,
			TxHash: round.PayoutTxHash,
			Error:  err.Error(),
		}, false
	}
}

// RecoverStaleDraws completes rounds left in processing longer than the stale
// threshold, typically by a crash between draw and finalize. Their payouts
// are marked unconfirmed for an operator to reconcile; they are not resent.
func (s *LotteryService) RecoverStaleDraws(ctx context.Context) (int, error) {
	rounds, err := s.store.ProcessingRounds(ctx)
	if err != nil {
		return 0, storeFailure("list processing rounds", err)
	}
	now := s.now()
	cutoff := now.Add(-s.opts.StaleDrawAfter)

	recovered := 0
	for i := range rounds {
		round := &rounds[i]
		if round.DrawnAt != nil && round.DrawnAt.After(cutoff) {
			continue
		}
		outcome := store.PayoutOutcome{
			Status: models.PayoutUnconfirmed,
			Error:  "draw was interrupted before the payout outcome was recorded",
		}
		if round.Winner() == models.NoWinner {
			outcome = store.PayoutOutcome{Status: models.PayoutSkipped}
		}

		_, finalized, err := s.store.FinalizeRound(ctx, round.ID, outcome, now)
		if err != nil {
			return recovered, storeFailure("finalize stale round", err)
		}
		if !finalized {
			continue
		}
		recovered++
		logger.Warningf("Recovered round %d stuck in processing, payout %s", round.ID, outcome.Status)
		if outcome.Status == models.PayoutUnconfirmed {
			s.metrics.Payouts.WithLabelValues(string(models.PayoutUnconfirmed)).Inc()
			s.reportPayoutIssue(ctx, round, models.PayoutUnconfirmed, outcome.Error)
		}
	}
	return recovered, nil
}
