package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/google/logger"
)

// DryRun logs transfers instead of executing them. It is used when no RPC
// endpoint is configured.
type DryRun struct {
	decimals int32
	seq      atomic.Uint64
}

// NewDryRun returns a ledger that never moves funds.
func NewDryRun(decimals int32) *DryRun {
	return &DryRun{decimals: decimals}
}

func (d *DryRun) Decimals() int32 {
	return d.decimals
}

func (d *DryRun) Transfer(ctx context.Context, to string, amount *big.Int) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "transfer", Err: err}
	}
	n := d.seq.Add(1)
	logger.Warningf("Dry-run ledger: would transfer %s base units to %s", amount, to)
	return &Receipt{TxHash: fmt.Sprintf("dryrun-%d", n)}, nil
}

// Receipt confirms hashes this ledger handed out; anything else is unknown
// and reported as pending.
func (d *DryRun) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "lookup", TxHash: txHash, Err: err}
	}
	if !strings.HasPrefix(txHash, "dryrun-") {
		return nil, ErrPending
	}
	return &Receipt{TxHash: txHash}, nil
}
