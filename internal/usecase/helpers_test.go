package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"coingate/internal/adapter/store"
	"coingate/internal/domain/entity"

	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeProvider answers with reply or err. With block set it waits for the
// attempt deadline instead.
type fakeProvider struct {
	id    string
	reply string
	err   error
	block bool

	mu      sync.Mutex
	calls   int
	lastReq entity.ProviderRequest
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Call(ctx context.Context, req entity.ProviderRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func failing(id string, reason entity.FailureReason) *fakeProvider {
	return &fakeProvider{id: id, err: &entity.ProviderError{Provider: id, Reason: reason, Detail: "test failure"}}
}

func newTestLedger(t *testing.T, opts LedgerOptions) *Ledger {
	t.Helper()
	s, err := store.OpenSQLiteLedger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewLedger(s, testLogger, opts)
}

func fund(t *testing.T, l *Ledger, userID string, amount int64) {
	t.Helper()
	_, err := l.Credit(context.Background(), userID, amount, "topup", "test funding")
	require.NoError(t, err)
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (f fakeLimiter) Allow(context.Context, string) (bool, error) { return f.allow, f.err }

type fakeVerifier struct {
	ids map[string]*entity.Identity
}

func (f fakeVerifier) Verify(_ context.Context, token string) (*entity.Identity, error) {
	if id, ok := f.ids[token]; ok {
		return id, nil
	}
	return nil, entity.ErrUnauthenticated
}
