// Package alert is the operator-facing channel for payouts that need manual
// reconciliation.
package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/logger"
)

// PayoutIssue describes a drawn round whose payout did not complete.
type PayoutIssue struct {
	RoundID uint64
	Winner  string
	Amount  int64
	Status  string
	Reason  string
}

func (p PayoutIssue) String() string {
	return fmt.Sprintf("round %d: payout of %d to %s is %s: %s", p.RoundID, p.Amount, p.Winner, p.Status, p.Reason)
}

// Notifier delivers payout issues to operators.
type Notifier interface {
	PayoutIssue(ctx context.Context, issue PayoutIssue) error
}

// LogNotifier writes payout issues to the error log.
type LogNotifier struct{}

func (LogNotifier) PayoutIssue(_ context.Context, issue PayoutIssue) error {
	logger.Errorf("Manual payout follow-up required, %s", issue)
	return nil
}

// Multi fans an issue out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) PayoutIssue(ctx context.Context, issue PayoutIssue) error {
	var errs []error
	for _, n := range m {
		if err := n.PayoutIssue(ctx, issue); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
