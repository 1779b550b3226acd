// Package ledger pays prizes out on the external asset ledger.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Receipt confirms a transfer accepted by the ledger.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
}

// ErrPending is returned by Receipt for a transaction that is not mined yet.
var ErrPending = errors.New("transaction not mined yet")

// Error is returned when the ledger rejects or fails to confirm a transfer.
// TxHash is set once the transfer was broadcast: the funds may still move.
type Error struct {
	Op     string
	TxHash string
	Err    error
}

func (e *Error) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("ledger %s %s: %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client transfers amounts, expressed in the ledger's smallest unit, to an
// address. Transfer blocks until the ledger confirms or ctx is done.
// Receipt looks up an earlier transfer: it returns ErrPending while the
// transaction is unmined and an *Error without TxHash if it reverted.
type Client interface {
	Transfer(ctx context.Context, to string, amount *big.Int) (*Receipt, error)
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
	Decimals() int32
}

// Broadcast returns the hash of a transfer that reached the ledger before
// err happened, or "" if the transfer certainly did not go out.
func Broadcast(err error) string {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.TxHash
	}
	return ""
}

// ToSmallestUnit converts a whole-token amount into the ledger's base unit
// using its fixed decimal precision.
func ToSmallestUnit(amount int64, decimals int32) *big.Int {
	return decimal.NewFromInt(amount).Shift(decimals).BigInt()
}
