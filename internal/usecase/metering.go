package usecase

import (
	"context"
	"fmt"

	"coingate/internal/domain/entity"
)

type Charge struct {
	Amount  int64
	Balance int64
}

// precheck rejects early, before any provider is paid for.
func precheck(ctx context.Context, ledger *Ledger, userID string, cost int64) error {
	ok, err := ledger.HasEnough(ctx, userID, cost)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d coins required", entity.ErrInsufficientFunds, cost)
	}
	return nil
}

// charge debits the cost and logs feature usage as one unit.
func charge(ctx context.Context, ledger *Ledger, userID string, cost int64, feature, provider, description, idempotencyKey string) (*Charge, error) {
	var opts []OpOption
	if idempotencyKey != "" {
		opts = append(opts, WithIdempotencyKey(feature+":"+userID+":"+idempotencyKey))
	}
	batch := NewBatch().
		Debit(userID, cost, feature, description, opts...).
		Log(entity.UsageRecord{UserID: userID, Feature: feature, Provider: provider, Detail: description})

	res, err := ledger.Commit(ctx, batch)
	if err != nil {
		return nil, err
	}
	c := &Charge{Amount: cost, Balance: res.Balances[userID]}
	if res.Results[0].Deduplicated {
		c.Amount = 0
	}
	return c, nil
}
