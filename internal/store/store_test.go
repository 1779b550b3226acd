package store

import (
	"context"
	"testing"
	"time"

	"roundlottery/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pickFirst(addresses []string) (string, error) {
	if len(addresses) == 0 {
		return models.NoWinner, nil
	}
	return addresses[0], nil
}

func TestStore_CreateRoundAllowsOneActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	first, err := s.CreateRound(ctx, now, now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.RoundActive, first.Status)
	assert.Nil(t, first.WinnerAddress)

	_, err = s.CreateRound(ctx, now, now.Add(15*time.Minute))
	require.ErrorIs(t, err, ErrActiveRoundExists)

	active, err := s.ActiveRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestStore_AddParticipant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	round, err := s.CreateRound(ctx, now, now.Add(time.Minute))
	require.NoError(t, err)

	t.Run("grows the pool with the entry", func(t *testing.T) {
		updated, err := s.AddParticipant(ctx, &models.Participant{RoundID: round.ID, UserAddress: "0xaaa", TxHash: "0x01"}, 10000)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), updated.PrizeAmount)

		ok, err := s.HasParticipant(ctx, round.ID, "0xaaa")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("duplicate tx hash leaves the pool untouched", func(t *testing.T) {
		_, err := s.AddParticipant(ctx, &models.Participant{RoundID: round.ID, UserAddress: "0xbbb", TxHash: "0x01"}, 10000)
		require.ErrorIs(t, err, ErrDuplicateTxHash)

		current, err := s.Round(ctx, round.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), current.PrizeAmount)
	})

	t.Run("same address twice in a round", func(t *testing.T) {
		_, err := s.AddParticipant(ctx, &models.Participant{RoundID: round.ID, UserAddress: "0xaaa", TxHash: "0x02"}, 10000)
		require.ErrorIs(t, err, ErrDuplicateParticipant)

		count, err := s.CountParticipants(ctx, round.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("unknown round", func(t *testing.T) {
		_, err := s.AddParticipant(ctx, &models.Participant{RoundID: 999, UserAddress: "0xccc", TxHash: "0x03"}, 10000)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ClaimAndFinalize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Now().UTC().Add(-time.Hour)
	round, err := s.CreateRound(ctx, start, start.Add(15*time.Minute))
	require.NoError(t, err)
	for i, addr := range []string{"0xa", "0xb", "0xc"} {
		_, err := s.AddParticipant(ctx, &models.Participant{RoundID: round.ID, UserAddress: addr, TxHash: string(rune('x' + i))}, 10000)
		require.NoError(t, err)
	}
	now := time.Now().UTC()

	claimed, ok, err := s.ClaimForDraw(ctx, round.ID, now, pickFirst)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoundProcessing, claimed.Status)
	assert.Equal(t, "0xa", claimed.Winner())
	assert.Equal(t, models.PayoutPending, claimed.PayoutStatus)

	_, err = s.AddParticipant(ctx, &models.Participant{RoundID: round.ID, UserAddress: "0xd", TxHash: "late"}, 10000)
	require.ErrorIs(t, err, ErrRoundNotActive)

	again, ok, err := s.ClaimForDraw(ctx, round.ID, now, pickFirst)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "0xa", again.Winner())

	final, ok, err := s.FinalizeRound(ctx, round.ID, PayoutOutcome{Status: models.PayoutPaid, TxHash: "0xpaid"}, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoundCompleted, final.Status)
	assert.Equal(t, int64(30000), final.PrizeAmount)

	_, ok, err = s.FinalizeRound(ctx, round.ID, PayoutOutcome{Status: models.PayoutFailed}, now)
	require.NoError(t, err)
	assert.False(t, ok)

	history, err := s.CompletedRounds(ctx, 20)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.PayoutPaid, history[0].PayoutStatus)
}

func TestStore_ClaimRejectsOpenWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	round, err := s.CreateRound(ctx, now, now.Add(15*time.Minute))
	require.NoError(t, err)

	_, _, err = s.ClaimForDraw(ctx, round.ID, now, pickFirst)
	require.ErrorIs(t, err, ErrRoundNotExpired)

	current, err := s.Round(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundActive, current.Status)
}

func TestStore_PayoutRetryClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Now().UTC().Add(-time.Hour)
	round, err := s.CreateRound(ctx, start, start.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.AddParticipant(ctx, &models.Participant{RoundID: round.ID, UserAddress: "0xa", TxHash: "t1"}, 10000)
	require.NoError(t, err)

	_, err = s.ClaimPayoutRetry(ctx, round.ID)
	require.ErrorIs(t, err, ErrPayoutNotRetryable)

	now := time.Now().UTC()
	_, _, err = s.ClaimForDraw(ctx, round.ID, now, pickFirst)
	require.NoError(t, err)
	_, _, err = s.FinalizeRound(ctx, round.ID, PayoutOutcome{Status: models.PayoutFailed, Error: "rpc down"}, now)
	require.NoError(t, err)

	retrying, err := s.ClaimPayoutRetry(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutRetrying, retrying.PayoutStatus)

	_, err = s.ClaimPayoutRetry(ctx, round.ID)
	require.ErrorIs(t, err, ErrPayoutNotRetryable)

	paid, err := s.RecordPayoutRetry(ctx, round.ID, PayoutOutcome{Status: models.PayoutPaid, TxHash: "0xok"})
	require.NoError(t, err)
	assert.Equal(t, models.PayoutPaid, paid.PayoutStatus)
	assert.Equal(t, "0xok", paid.PayoutTxHash)
}

func TestStore_AdjustPool(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	round, err := s.CreateRound(ctx, now, now.Add(time.Minute))
	require.NoError(t, err)

	updated, err := s.AdjustPool(ctx, round.ID, 500, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), updated.PrizeAmount)
	assert.Equal(t, int64(500), updated.BonusAmount)

	_, err = s.AdjustPool(ctx, 42, 1, 1)
	require.ErrorIs(t, err, ErrNotFound)
}
