package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"

	"github.com/google/uuid"
)

const FeatureSignup = "signup_bonus"

type LedgerOptions struct {
	SignupBonus       int64
	IdempotencyWindow time.Duration
	Now               func() time.Time
}

// Ledger is the only writer of coin balances. Every debit and credit is
// paired with exactly one logged transaction, successful or not.
type Ledger struct {
	store  repository.LedgerStore
	logger *slog.Logger
	opts   LedgerOptions
}

func NewLedger(store repository.LedgerStore, logger *slog.Logger, opts LedgerOptions) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IdempotencyWindow <= 0 {
		opts.IdempotencyWindow = 10 * time.Minute
	}
	return &Ledger{store: store, logger: logger, opts: opts}
}

type opKind int

const (
	opDebit opKind = iota
	opCredit
	opLog
)

type ledgerOp struct {
	kind           opKind
	userID         string
	amount         int64
	feature        string
	description    string
	idempotencyKey string
	usage          entity.UsageRecord
}

type OpOption func(*ledgerOp)

// WithIdempotencyKey makes a repeated call with the same key inside the
// idempotency window a no-op that reports the original transaction.
func WithIdempotencyKey(key string) OpOption {
	return func(op *ledgerOp) { op.idempotencyKey = key }
}

// Batch queues ledger operations that commit all-or-nothing.
type Batch struct {
	ops []ledgerOp
	err error
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) Debit(userID string, amount int64, feature, description string, opts ...OpOption) *Batch {
	return b.add(ledgerOp{kind: opDebit, userID: userID, amount: amount, feature: feature, description: description}, opts)
}

func (b *Batch) Credit(userID string, amount int64, feature, description string, opts ...OpOption) *Batch {
	return b.add(ledgerOp{kind: opCredit, userID: userID, amount: amount, feature: feature, description: description}, opts)
}

func (b *Batch) Log(rec entity.UsageRecord) *Batch {
	if rec.UserID == "" && b.err == nil {
		b.err = fmt.Errorf("%w: usage record without user id", entity.ErrInvalidInput)
	}
	b.ops = append(b.ops, ledgerOp{kind: opLog, userID: rec.UserID, feature: rec.Feature, usage: rec})
	return b
}

func (b *Batch) Len() int { return len(b.ops) }

func (b *Batch) add(op ledgerOp, opts []OpOption) *Batch {
	for _, o := range opts {
		o(&op)
	}
	if b.err == nil {
		switch {
		case op.userID == "":
			b.err = fmt.Errorf("%w: missing user id", entity.ErrInvalidInput)
		case op.amount <= 0:
			b.err = entity.ErrInvalidAmount
		}
	}
	b.ops = append(b.ops, op)
	return b
}

type BatchResult struct {
	Results  []entity.LedgerResult `json:"results"`
	Balances map[string]int64      `json:"balances"`
}

func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	acc, err := l.store.GetAccount(ctx, userID)
	if errors.Is(err, entity.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	return acc.Balance, nil
}

// HasEnough is an advisory precheck; only Debit decides.
func (l *Ledger) HasEnough(ctx context.Context, userID string, amount int64) (bool, error) {
	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, feature, description string, opts ...OpOption) (*entity.LedgerResult, error) {
	res, err := l.commit(ctx, NewBatch().Debit(userID, amount, feature, description, opts...), false)
	if err != nil {
		return nil, err
	}
	return &res.Results[0], nil
}

func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, feature, description string, opts ...OpOption) (*entity.LedgerResult, error) {
	res, err := l.commit(ctx, NewBatch().Credit(userID, amount, feature, description, opts...), false)
	if err != nil {
		return nil, err
	}
	return &res.Results[0], nil
}

// Commit applies every queued operation or none. Balance checks for all
// debits run before anything is staged.
func (l *Ledger) Commit(ctx context.Context, b *Batch) (*BatchResult, error) {
	return l.commit(ctx, b, true)
}

// EnsureAccount opens an account funded with the signup bonus. It reports
// false when the account already existed.
func (l *Ledger) EnsureAccount(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("%w: missing user id", entity.ErrInvalidInput)
	}
	_, err := l.store.GetAccount(ctx, userID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, entity.ErrAccountNotFound) {
		return false, fmt.Errorf("reading account: %w", err)
	}

	now := l.opts.Now().UTC()
	txn := entity.CoinTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Direction:   entity.Credit,
		Amount:      l.opts.SignupBonus,
		Feature:     FeatureSignup,
		Description: "welcome bonus",
		Success:     true,
		Timestamp:   now,
	}
	created := false
	err = l.store.RunTx(ctx, entity.LedgerScope{UserIDs: []string{userID}}, func(tx repository.LedgerTx) error {
		created = false
		if _, err := tx.Account(userID); err == nil {
			return nil
		} else if !errors.Is(err, entity.ErrAccountNotFound) {
			return err
		}
		created = true
		tx.PutAccount(entity.CoinAccount{UserID: userID, Balance: l.opts.SignupBonus, UpdatedAt: now})
		if l.opts.SignupBonus > 0 {
			txn.BalanceAfter = l.opts.SignupBonus
			tx.AppendTransaction(txn)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("opening account: %w", err)
	}
	if created {
		l.logger.Info("coin account opened", "user_id", userID, "bonus", l.opts.SignupBonus)
	}
	return created, nil
}

func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]entity.CoinTransaction, error) {
	txns, err := l.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return txns, nil
}

func (l *Ledger) Usage(ctx context.Context, userID string, limit int) ([]entity.UsageRecord, error) {
	recs, err := l.store.ListUsage(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing usage: %w", err)
	}
	return recs, nil
}

// Statistics scans the full history. It is informational only.
func (l *Ledger) Statistics(ctx context.Context, userID string) (*entity.LedgerStats, error) {
	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	txns, err := l.History(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	stats := &entity.LedgerStats{
		CurrentBalance:   balance,
		FeaturesUsed:     map[string]int{},
		TransactionCount: len(txns),
	}
	for i, t := range txns {
		if i == 0 {
			ts := t.Timestamp
			stats.LastTransactionAt = &ts
		}
		if !t.Success {
			stats.FailedCount++
			continue
		}
		switch t.Direction {
		case entity.Credit:
			stats.TotalEarned += t.Amount
		case entity.Debit:
			stats.TotalSpent += t.Amount
			stats.FeaturesUsed[t.Feature]++
		}
	}
	return stats, nil
}

// Reconcile compares the stored balance with the one derived from the log.
func (l *Ledger) Reconcile(ctx context.Context, userID string) (*entity.Reconciliation, error) {
	stats, err := l.Statistics(ctx, userID)
	if err != nil {
		return nil, err
	}
	derived := stats.TotalEarned - stats.TotalSpent
	rec := &entity.Reconciliation{
		UserID:         userID,
		StoredBalance:  stats.CurrentBalance,
		DerivedBalance: derived,
		Drift:          stats.CurrentBalance - derived,
	}
	if rec.Drift != 0 {
		l.logger.Warn("ledger drift detected", "user_id", userID, "stored", rec.StoredBalance, "derived", derived)
	}
	return rec, nil
}

func (l *Ledger) commit(ctx context.Context, b *Batch, batch bool) (*BatchResult, error) {
	if b == nil || len(b.ops) == 0 {
		return &BatchResult{Balances: map[string]int64{}}, nil
	}
	if b.err != nil {
		return nil, b.err
	}

	now := l.opts.Now().UTC()
	txns := make([]entity.CoinTransaction, len(b.ops))
	scope := entity.LedgerScope{}
	seen := map[string]bool{}
	for i, op := range b.ops {
		if !seen[op.userID] {
			seen[op.userID] = true
			scope.UserIDs = append(scope.UserIDs, op.userID)
		}
		if op.idempotencyKey != "" {
			scope.IdempotencyKeys = append(scope.IdempotencyKeys, op.idempotencyKey)
		}
		switch op.kind {
		case opDebit, opCredit:
			dir := entity.Debit
			if op.kind == opCredit {
				dir = entity.Credit
			}
			txns[i] = entity.CoinTransaction{
				ID:          uuid.NewString(),
				UserID:      op.userID,
				Direction:   dir,
				Amount:      op.amount,
				Feature:     op.feature,
				Description: op.description,
				Timestamp:   now,
			}
		case opLog:
			if b.ops[i].usage.ID == "" {
				b.ops[i].usage.ID = uuid.NewString()
			}
			if b.ops[i].usage.Timestamp.IsZero() {
				b.ops[i].usage.Timestamp = now
			}
		}
	}

	var result *BatchResult
	err := l.store.RunTx(ctx, scope, func(tx repository.LedgerTx) error {
		res, err := l.apply(tx, b.ops, txns, now)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		l.recordFailure(ctx, b.ops, txns, err)
		if batch {
			return nil, fmt.Errorf("%w: %w", entity.ErrBatchRejected, err)
		}
		return nil, err
	}

	for i, op := range b.ops {
		if op.kind == opLog || result.Results[i].Deduplicated {
			continue
		}
		l.logger.Info("ledger transaction applied",
			"user_id", op.userID,
			"direction", txns[i].Direction,
			"amount", op.amount,
			"feature", op.feature,
			"balance", result.Results[i].NewBalance,
		)
	}
	return result, nil
}

// apply runs inside the store transaction and may be re-run on conflict, so
// it must only depend on its arguments and what tx returns.
func (l *Ledger) apply(tx repository.LedgerTx, ops []ledgerOp, txns []entity.CoinTransaction, now time.Time) (*BatchResult, error) {
	accounts := map[string]*entity.CoinAccount{}
	dirty := map[string]bool{}
	load := func(userID string, create bool) (*entity.CoinAccount, error) {
		if acc, ok := accounts[userID]; ok {
			return acc, nil
		}
		acc, err := tx.Account(userID)
		if errors.Is(err, entity.ErrAccountNotFound) && create {
			acc, err = &entity.CoinAccount{UserID: userID}, nil
		}
		if err != nil {
			return nil, err
		}
		accounts[userID] = acc
		return acc, nil
	}

	results := make([]entity.LedgerResult, len(ops))
	dedup := make([]bool, len(ops))
	replayed := map[string]bool{}

	// Pre-flight: resolve every operation against running balances before staging.
	for i, op := range ops {
		if op.idempotencyKey != "" {
			prior, found, err := tx.IdempotentTx(op.idempotencyKey, now)
			if err != nil {
				return nil, err
			}
			if found {
				dedup[i] = true
				replayed[op.userID] = true
				results[i] = entity.LedgerResult{TransactionID: prior, Deduplicated: true}
				continue
			}
		}
		switch op.kind {
		case opDebit:
			acc, err := load(op.userID, false)
			if err != nil {
				return nil, fmt.Errorf("debit %s: %w", op.userID, err)
			}
			if acc.Balance < op.amount {
				return nil, fmt.Errorf("debit %s: %w (balance %d, need %d)", op.userID, entity.ErrInsufficientFunds, acc.Balance, op.amount)
			}
			acc.Balance -= op.amount
			dirty[op.userID] = true
		case opCredit:
			acc, err := load(op.userID, true)
			if err != nil {
				return nil, fmt.Errorf("credit %s: %w", op.userID, err)
			}
			acc.Balance += op.amount
			dirty[op.userID] = true
		}
		if op.kind != opLog {
			results[i] = entity.LedgerResult{TransactionID: txns[i].ID, NewBalance: accounts[op.userID].Balance}
		}
	}

	for i, op := range ops {
		if dedup[i] {
			if acc, err := load(op.userID, false); err == nil {
				results[i].NewBalance = acc.Balance
			}
			continue
		}
		if op.kind == opLog {
			// A replayed charge was already logged by its first attempt.
			if !replayed[op.userID] {
				tx.AppendUsage(op.usage)
			}
			continue
		}
		t := txns[i]
		t.Success = true
		t.BalanceAfter = results[i].NewBalance
		tx.AppendTransaction(t)
		if op.idempotencyKey != "" {
			tx.RememberIdempotent(op.idempotencyKey, t.ID, now, l.opts.IdempotencyWindow)
		}
	}

	balances := make(map[string]int64, len(accounts))
	for id, acc := range accounts {
		balances[id] = acc.Balance
		if dirty[id] {
			acc.UpdatedAt = now
			tx.PutAccount(*acc)
		}
	}
	return &BatchResult{Results: results, Balances: balances}, nil
}

// recordFailure logs one unsuccessful transaction per balance operation of a
// rejected call so failed attempts stay auditable.
func (l *Ledger) recordFailure(ctx context.Context, ops []ledgerOp, txns []entity.CoinTransaction, cause error) {
	for i, op := range ops {
		if op.kind == opLog {
			continue
		}
		t := txns[i]
		t.Success = false
		t.Error = cause.Error()
		if err := l.store.AppendTransaction(ctx, t); err != nil {
			l.logger.Error("failed to record failed ledger transaction",
				"user_id", op.userID,
				"transaction_id", t.ID,
				"error", err,
			)
		}
		l.logger.Warn("ledger transaction rejected",
			"user_id", op.userID,
			"direction", t.Direction,
			"amount", op.amount,
			"feature", op.feature,
			"error", cause,
		)
	}
}
