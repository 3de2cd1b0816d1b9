package repository

import (
	"context"
	"time"

	"coingate/internal/domain/entity"
)

// Provider wraps one completion backend. Implementations never retry and
// report failures as *entity.ProviderError.
type Provider interface {
	ID() string
	Call(ctx context.Context, req entity.ProviderRequest) (string, error)
}

// LedgerStore is the persistence the coin ledger needs: an isolated
// read-modify-write unit, an append-only log and plain reads.
type LedgerStore interface {
	// RunTx runs fn against a consistent view of the scoped keys and commits
	// everything fn staged, or nothing. Conflicts are retried by the store;
	// an error returned by fn aborts without mutation.
	RunTx(ctx context.Context, scope entity.LedgerScope, fn func(tx LedgerTx) error) error
	AppendTransaction(ctx context.Context, txn entity.CoinTransaction) error
	GetAccount(ctx context.Context, userID string) (*entity.CoinAccount, error)
	// ListTransactions returns the newest first; limit <= 0 means all.
	ListTransactions(ctx context.Context, userID string, limit int) ([]entity.CoinTransaction, error)
	ListUsage(ctx context.Context, userID string, limit int) ([]entity.UsageRecord, error)
	Close() error
}

type LedgerTx interface {
	// Account returns entity.ErrAccountNotFound when the user has no account.
	Account(userID string) (*entity.CoinAccount, error)
	PutAccount(acc entity.CoinAccount)
	AppendTransaction(txn entity.CoinTransaction)
	AppendUsage(rec entity.UsageRecord)
	// Idempotency keys expire against the caller's clock, not the store's.
	IdempotentTx(key string, now time.Time) (txID string, found bool, err error)
	RememberIdempotent(key, txID string, now time.Time, ttl time.Duration)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type VectorStore interface {
	Search(ctx context.Context, vector []float32, threshold float32, filters map[string]string) (content string, score float32, err error)
	Save(ctx context.Context, prompt, content string, vector []float32, metadata map[string]any) error
}

type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*entity.Identity, error)
}
