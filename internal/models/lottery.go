package models

import "time"

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

const (
	RoundActive     RoundStatus = "active"
	RoundProcessing RoundStatus = "processing" // claimed by a drawer, payout in flight
	RoundCompleted  RoundStatus = "completed"
)

// PayoutStatus tracks the ledger transfer for a drawn round separately from
// the draw outcome itself.
type PayoutStatus string

const (
	PayoutSkipped     PayoutStatus = "skipped" // no participants, nothing to pay
	PayoutPending     PayoutStatus = "pending"
	PayoutPaid        PayoutStatus = "paid"
	PayoutFailed      PayoutStatus = "failed"
	PayoutUnconfirmed PayoutStatus = "unconfirmed" // drawer vanished mid-payout
	PayoutRetrying    PayoutStatus = "retrying"
)

// NoWinner is recorded as the winner of a round that closed without
// participants. A nil WinnerAddress means the round has not been drawn yet.
const NoWinner = "none"

// Round is one time-boxed lottery cycle with its own prize pool.
type Round struct {
	ID            uint64       `json:"id" gorm:"primaryKey;autoIncrement"`
	StartTime     time.Time    `json:"start_time" gorm:"not null"`
	EndTime       time.Time    `json:"end_time" gorm:"not null;index"`
	Status        RoundStatus  `json:"status" gorm:"type:varchar(16);not null;index"`
	WinnerAddress *string      `json:"winner_address" gorm:"type:varchar(64)"`
	PrizeAmount   int64        `json:"prize_amount" gorm:"not null;default:0"`
	BonusAmount   int64        `json:"bonus_amount" gorm:"not null;default:0"`
	DrawnAt       *time.Time   `json:"drawn_at,omitempty"`
	PayoutStatus  PayoutStatus `json:"payout_status,omitempty" gorm:"type:varchar(16)"`
	PayoutTxHash  string       `json:"payout_tx_hash,omitempty" gorm:"type:varchar(100)"`
	PayoutError   string       `json:"payout_error,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// Expired reports whether the round window has elapsed at now.
func (r *Round) Expired(now time.Time) bool {
	return !now.Before(r.EndTime)
}

// Winner returns the recorded winner, or "" if the round is not drawn yet.
func (r *Round) Winner() string {
	if r.WinnerAddress == nil {
		return ""
	}
	return *r.WinnerAddress
}

// Column widths of the participant identifiers; keep in sync with the tags.
const (
	MaxAddressLength = 64
	MaxTxHashLength  = 100
)

// Participant is a single address entered into a round, tied to the external
// transaction that paid for the entry.
type Participant struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	RoundID     uint64    `json:"round_id" gorm:"not null;index;uniqueIndex:idx_participants_round_user,priority:1"`
	UserAddress string    `json:"user_address" gorm:"type:varchar(64);not null;uniqueIndex:idx_participants_round_user,priority:2"`
	TxHash      string    `json:"tx_hash" gorm:"type:varchar(100);not null;uniqueIndex:idx_participants_tx_hash"`
	CreatedAt   time.Time `json:"created_at"`

	Round *Round `json:"-" gorm:"foreignKey:RoundID"`
}
