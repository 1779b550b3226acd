package services

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"roundlottery/internal/alert"
	"roundlottery/internal/ledger"
	"roundlottery/internal/metrics"
	"roundlottery/internal/models"
	"roundlottery/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// RoundStore is the persistence the engine relies on. *store.Store
// implements it.
type RoundStore interface {
	ActiveRound(ctx context.Context) (*models.Round, error)
	Round(ctx context.Context, id uint64) (*models.Round, error)
	CreateRound(ctx context.Context, start, end time.Time) (*models.Round, error)
	CompletedRounds(ctx context.Context, limit int) ([]models.Round, error)
	ProcessingRounds(ctx context.Context) ([]models.Round, error)
	AdjustPool(ctx context.Context, id uint64, prize, bonus int64) (*models.Round, error)
	ClaimForDraw(ctx context.Context, id uint64, now time.Time, pick store.WinnerPicker) (*models.Round, bool, error)
	FinalizeRound(ctx context.Context, id uint64, outcome store.PayoutOutcome, now time.Time) (*models.Round, bool, error)
	ClaimPayoutRetry(ctx context.Context, id uint64) (*models.Round, error)
	RecordPayoutRetry(ctx context.Context, id uint64, outcome store.PayoutOutcome) (*models.Round, error)
	HasParticipant(ctx context.Context, roundID uint64, address string) (bool, error)
	AddParticipant(ctx context.Context, p *models.Participant, increment int64) (*models.Round, error)
	CountParticipants(ctx context.Context, roundID uint64) (int64, error)
	RecentParticipants(ctx context.Context, roundID uint64, limit int) ([]models.Participant, error)
}

// Options tunes the round engine.
type Options struct {
	RoundWindow        time.Duration
	EntryIncrement     int64
	PayoutTimeout      time.Duration
	StaleDrawAfter     time.Duration
	HistoryLimit       int
	RecentParticipants int
}

// DefaultOptions matches the production defaults.
func DefaultOptions() Options {
	return Options{
		RoundWindow:        15 * time.Minute,
		EntryIncrement:     10000,
		PayoutTimeout:      2 * time.Minute,
		StaleDrawAfter:     10 * time.Minute,
		HistoryLimit:       20,
		RecentParticipants: 10,
	}
}

// LotteryService runs the round lifecycle: registration, draws, payouts and
// round rollover. It holds no round state of its own; the store is the only
// source of truth.
type LotteryService struct {
	store    RoundStore
	ledger   ledger.Client
	notifier alert.Notifier
	metrics  *metrics.Metrics
	opts     Options

	now       func() time.Time
	randIndex func(n int) (int, error)
	draws     singleflight.Group
}

// NewLotteryService creates and initializes a new LotteryService. A nil
// notifier falls back to logging, nil metrics to a private registry.
func NewLotteryService(rs RoundStore, lc ledger.Client, notifier alert.Notifier, m *metrics.Metrics, opts Options) *LotteryService {
	if notifier == nil {
		notifier = alert.LogNotifier{}
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &LotteryService{
		store:     rs,
		ledger:    lc,
		notifier:  notifier,
		metrics:   m,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		randIndex: cryptoIndex,
	}
}

// cryptoIndex returns a uniform index in [0, n).
func cryptoIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
