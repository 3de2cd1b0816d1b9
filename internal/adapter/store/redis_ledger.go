package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

const (
	redisTxRetries   = 8
	redisRetryBase   = 10 * time.Millisecond
	accountKeyPrefix = "coins:account:"
	txLogKeyPrefix   = "coins:tx:"
	usageKeyPrefix   = "coins:usage:"
	idemKeyPrefix    = "coins:idem:"
)

// RedisLedger keeps balances in hashes and the logs in lists (newest first).
// Transactions use WATCH/MULTI; a concurrent write to a watched key makes
// EXEC fail and the whole read-modify-write is re-run.
type RedisLedger struct {
	client *redis.Client
}

var _ repository.LedgerStore = (*RedisLedger)(nil)

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (r *RedisLedger) Close() error {
	return r.client.Close()
}

func (r *RedisLedger) RunTx(ctx context.Context, scope entity.LedgerScope, fn func(tx repository.LedgerTx) error) error {
	keys := make([]string, 0, len(scope.UserIDs)+len(scope.IdempotencyKeys))
	for _, id := range scope.UserIDs {
		keys = append(keys, accountKeyPrefix+id)
	}
	for _, k := range scope.IdempotencyKeys {
		keys = append(keys, idemKeyPrefix+k)
	}

	txf := func(tx *redis.Tx) error {
		rtx := &redisTx{ctx: ctx, tx: tx}
		if err := fn(rtx); err != nil {
			return err
		}
		if rtx.err != nil {
			return rtx.err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range rtx.writes {
				w(pipe)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		backoff := redisRetryBase * time.Duration(1<<attempt)
		jitter := time.Duration(rand.Int63n(int64(backoff)/5 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return entity.ErrTxConflict
}

func (r *RedisLedger) AppendTransaction(ctx context.Context, txn entity.CoinTransaction) error {
	b, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("encoding transaction: %w", err)
	}
	return r.client.LPush(ctx, txLogKeyPrefix+txn.UserID, b).Err()
}

func (r *RedisLedger) GetAccount(ctx context.Context, userID string) (*entity.CoinAccount, error) {
	fields, err := r.client.HGetAll(ctx, accountKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}
	return decodeAccount(userID, fields)
}

func (r *RedisLedger) ListTransactions(ctx context.Context, userID string, limit int) ([]entity.CoinTransaction, error) {
	raw, err := r.client.LRange(ctx, txLogKeyPrefix+userID, 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading transaction log: %w", err)
	}
	out := make([]entity.CoinTransaction, 0, len(raw))
	for _, item := range raw {
		var t entity.CoinTransaction
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decoding transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *RedisLedger) ListUsage(ctx context.Context, userID string, limit int) ([]entity.UsageRecord, error) {
	raw, err := r.client.LRange(ctx, usageKeyPrefix+userID, 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading usage log: %w", err)
	}
	out := make([]entity.UsageRecord, 0, len(raw))
	for _, item := range raw {
		var u entity.UsageRecord
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			return nil, fmt.Errorf("decoding usage record: %w", err)
		}
		out = append(out, u)
	}
	return out, nil
}

func stop(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit - 1)
}

func decodeAccount(userID string, fields map[string]string) (*entity.CoinAccount, error) {
	raw, ok := fields["balance"]
	if !ok {
		return nil, entity.ErrAccountNotFound
	}
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for %s: %w", userID, err)
	}
	acc := &entity.CoinAccount{UserID: userID, Balance: balance}
	if ts, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		acc.UpdatedAt = time.Unix(0, ts).UTC()
	}
	return acc, nil
}

// redisTx reads through the watched connection and queues writes for EXEC.
type redisTx struct {
	ctx    context.Context
	tx     *redis.Tx
	writes []func(redis.Pipeliner)
	err    error
}

func (t *redisTx) Account(userID string) (*entity.CoinAccount, error) {
	fields, err := t.tx.HGetAll(t.ctx, accountKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}
	return decodeAccount(userID, fields)
}

func (t *redisTx) PutAccount(acc entity.CoinAccount) {
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.HSet(t.ctx, accountKeyPrefix+acc.UserID,
			"balance", acc.Balance,
			"updated_at", acc.UpdatedAt.UnixNano(),
		)
	})
}

func (t *redisTx) AppendTransaction(txn entity.CoinTransaction) {
	b, err := json.Marshal(txn)
	if err != nil {
		t.err = fmt.Errorf("encoding transaction: %w", err)
		return
	}
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.LPush(t.ctx, txLogKeyPrefix+txn.UserID, b)
	})
}

func (t *redisTx) AppendUsage(rec entity.UsageRecord) {
	b, err := json.Marshal(rec)
	if err != nil {
		t.err = fmt.Errorf("encoding usage record: %w", err)
		return
	}
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.LPush(t.ctx, usageKeyPrefix+rec.UserID, b)
	})
}

// Idempotency values are "<expiresAtUnixNano>:<txID>"; the Redis TTL only
// reclaims space.
func (t *redisTx) IdempotentTx(key string, now time.Time) (string, bool, error) {
	val, err := t.tx.Get(t.ctx, idemKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading idempotency key: %w", err)
	}
	expires, txID, ok := strings.Cut(val, ":")
	if !ok {
		return "", false, fmt.Errorf("malformed idempotency value for %s", key)
	}
	at, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return "", false, fmt.Errorf("malformed idempotency expiry for %s: %w", key, err)
	}
	if now.UnixNano() >= at {
		return "", false, nil
	}
	return txID, true, nil
}

func (t *redisTx) RememberIdempotent(key, txID string, now time.Time, ttl time.Duration) {
	val := strconv.FormatInt(now.Add(ttl).UnixNano(), 10) + ":" + txID
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.Set(t.ctx, idemKeyPrefix+key, val, ttl)
	})
}
