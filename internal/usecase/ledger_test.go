package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"coingate/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerCreditCreatesAccount(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()

	bal, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, bal)

	res, err := l.Credit(ctx, "u1", 5, "topup", "purchase")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.NewBalance)
	assert.NotEmpty(t, res.TransactionID)

	bal, err = l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)
}

func TestLedgerDebitMissingAccount(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()

	_, err := l.Debit(ctx, "ghost", 1, FeatureDiscover, "career suggestions")
	require.ErrorIs(t, err, entity.ErrAccountNotFound)

	txns, err := l.History(ctx, "ghost", 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.False(t, txns[0].Success)
	assert.Equal(t, entity.Debit, txns[0].Direction)
	assert.NotEmpty(t, txns[0].Error)

	_, err = l.store.GetAccount(ctx, "ghost")
	assert.ErrorIs(t, err, entity.ErrAccountNotFound, "a failed debit must not open an account")
}

func TestLedgerInsufficientFunds(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fund(t, l, "u1", 2)

	_, err := l.Debit(ctx, "u1", 3, FeatureResume, "resume analysis")
	require.ErrorIs(t, err, entity.ErrInsufficientFunds)

	bal, _ := l.GetBalance(ctx, "u1")
	assert.Equal(t, int64(2), bal)

	txns, err := l.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.False(t, txns[0].Success)
	assert.Equal(t, int64(3), txns[0].Amount)
	assert.True(t, txns[1].Success)
}

func TestLedgerRejectsInvalidArguments(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()

	_, err := l.Debit(ctx, "u1", 0, FeatureDiscover, "")
	assert.ErrorIs(t, err, entity.ErrInvalidAmount)
	_, err = l.Credit(ctx, "u1", -4, "topup", "")
	assert.ErrorIs(t, err, entity.ErrInvalidAmount)
	_, err = l.Credit(ctx, "", 4, "topup", "")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	txns, err := l.History(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestLedgerConcurrentDebitsNeverOverdraw(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fund(t, l, "u1", 10)

	const workers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, "u1", 1, FeatureDiscover, "career suggestions")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, entity.ErrInsufficientFunds)
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, workers-10, rejected)

	bal, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, bal)

	txns, err := l.History(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, txns, workers+1, "every attempt is logged")

	rec, err := l.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, rec.Drift)
}

func TestLedgerBatchIsAllOrNothing(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fund(t, l, "u1", 5)

	// The second debit only fails against the running balance.
	b := NewBatch().
		Debit("u1", 3, FeatureDiscover, "first").
		Debit("u1", 3, FeatureResume, "second").
		Log(entity.UsageRecord{UserID: "u1", Feature: FeatureDiscover})
	_, err := l.Commit(ctx, b)
	require.ErrorIs(t, err, entity.ErrBatchRejected)
	require.ErrorIs(t, err, entity.ErrInsufficientFunds)

	bal, _ := l.GetBalance(ctx, "u1")
	assert.Equal(t, int64(5), bal)

	txns, _ := l.History(ctx, "u1", 0)
	require.Len(t, txns, 3)
	assert.False(t, txns[0].Success)
	assert.False(t, txns[1].Success)

	usage, err := l.Usage(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, usage)
}

func TestLedgerBatchAcrossUsers(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fund(t, l, "alice", 5)

	res, err := l.Commit(ctx, NewBatch().
		Debit("alice", 2, "transfer", "to bob").
		Credit("bob", 2, "transfer", "from alice").
		Log(entity.UsageRecord{UserID: "alice", Feature: "transfer", Provider: "none"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"alice": 3, "bob": 2}, res.Balances)
	require.Len(t, res.Results, 3)

	usage, err := l.Usage(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.NotEmpty(t, usage[0].ID)
	assert.False(t, usage[0].Timestamp.IsZero())
}

func TestLedgerEmptyBatch(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	res, err := l.Commit(context.Background(), NewBatch())
	require.NoError(t, err)
	assert.Empty(t, res.Balances)
}

func TestLedgerIdempotentDebit(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fund(t, l, "u1", 5)

	first, err := l.Debit(ctx, "u1", 2, FeatureDiscover, "x", WithIdempotencyKey("req-1"))
	require.NoError(t, err)
	second, err := l.Debit(ctx, "u1", 2, FeatureDiscover, "x", WithIdempotencyKey("req-1"))
	require.NoError(t, err)

	assert.False(t, first.Deduplicated)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, int64(3), second.NewBalance)

	txns, _ := l.History(ctx, "u1", 0)
	assert.Len(t, txns, 2)

	third, err := l.Debit(ctx, "u1", 2, FeatureDiscover, "x", WithIdempotencyKey("req-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), third.NewBalance)
}

func TestLedgerIdempotencyFollowsLedgerClock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(t, LedgerOptions{
		IdempotencyWindow: time.Minute,
		Now:               func() time.Time { return now },
	})
	fund(t, l, "u1", 5)

	first, err := l.Debit(ctx, "u1", 1, FeatureDiscover, "x", WithIdempotencyKey("req-1"))
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	again, err := l.Debit(ctx, "u1", 1, FeatureDiscover, "x", WithIdempotencyKey("req-1"))
	require.NoError(t, err)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, first.TransactionID, again.TransactionID)

	now = now.Add(time.Minute)
	later, err := l.Debit(ctx, "u1", 1, FeatureDiscover, "x", WithIdempotencyKey("req-1"))
	require.NoError(t, err)
	assert.False(t, later.Deduplicated)
	assert.Equal(t, int64(3), later.NewBalance)
}

func TestLedgerReplayedBatchSkipsUsage(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, LedgerOptions{})
	fund(t, l, "u1", 5)

	batch := func() *Batch {
		return NewBatch().
			Debit("u1", 1, FeatureDiscover, "x", WithIdempotencyKey("req-1")).
			Log(entity.UsageRecord{UserID: "u1", Feature: FeatureDiscover, Provider: "gemini"})
	}
	_, err := l.Commit(ctx, batch())
	require.NoError(t, err)
	res, err := l.Commit(ctx, batch())
	require.NoError(t, err)
	assert.True(t, res.Results[0].Deduplicated)

	usage, err := l.Usage(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, usage, 1)
}

func TestLedgerEnsureAccount(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{SignupBonus: 3})
	ctx := context.Background()

	created, err := l.EnsureAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = l.EnsureAccount(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, created)

	bal, _ := l.GetBalance(ctx, "u1")
	assert.Equal(t, int64(3), bal)

	txns, _ := l.History(ctx, "u1", 0)
	require.Len(t, txns, 1)
	assert.Equal(t, FeatureSignup, txns[0].Feature)

	_, err = l.EnsureAccount(ctx, "")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestLedgerStatistics(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fund(t, l, "u1", 4)

	_, err := l.Debit(ctx, "u1", 1, FeatureDiscover, "a")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "u1", 2, FeatureResume, "b")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "u1", 5, FeatureResume, "too much")
	require.Error(t, err)

	stats, err := l.Statistics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CurrentBalance)
	assert.Equal(t, int64(4), stats.TotalEarned)
	assert.Equal(t, int64(3), stats.TotalSpent)
	assert.Equal(t, map[string]int{FeatureDiscover: 1, FeatureResume: 1}, stats.FeaturesUsed)
	assert.Equal(t, 4, stats.TransactionCount)
	assert.Equal(t, 1, stats.FailedCount)
	require.NotNil(t, stats.LastTransactionAt)

	empty, err := l.Statistics(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.TransactionCount)
	assert.Nil(t, empty.LastTransactionAt)
}

func TestLedgerHistoryLimit(t *testing.T) {
	l := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		fund(t, l, "u1", int64(i+1))
	}

	txns, err := l.History(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, int64(5), txns[0].Amount)
	assert.Equal(t, int64(15), txns[0].BalanceAfter)
}
