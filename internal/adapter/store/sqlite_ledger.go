package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const sqliteTxRetries = 5

// SQLiteLedger keeps the ledger in a single SQLite file. One connection
// serializes every transaction in-process; immediate locking covers other
// processes sharing the file.
type SQLiteLedger struct {
	db *sql.DB
}

var _ repository.LedgerStore = (*SQLiteLedger)(nil)

// OpenSQLiteLedger opens (or creates) ledger.db in dataDir and applies
// pending migrations. ":memory:" opens a private in-memory database.
func OpenSQLiteLedger(dataDir string) (*SQLiteLedger, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = "file:" + filepath.Join(dataDir, "ledger.db") + "?_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if dataDir != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}

	s := &SQLiteLedger{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

func (s *SQLiteLedger) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: missing version prefix", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %s: invalid version: %w", name, err)
	}
	return v, nil
}

func (s *SQLiteLedger) RunTx(ctx context.Context, scope entity.LedgerScope, fn func(tx repository.LedgerTx) error) error {
	var lastErr error
	for attempt := 0; attempt < sqliteTxRetries; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", entity.ErrTxConflict, lastErr)
}

func (s *SQLiteLedger) runOnce(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	stx := &sqliteTx{ctx: ctx, tx: tx}
	if err := fn(stx); err != nil {
		tx.Rollback()
		return err
	}
	if stx.err != nil {
		tx.Rollback()
		return stx.err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ledger transaction: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

func (s *SQLiteLedger) AppendTransaction(ctx context.Context, txn entity.CoinTransaction) error {
	return insertTransaction(ctx, s.db, txn)
}

func (s *SQLiteLedger) GetAccount(ctx context.Context, userID string) (*entity.CoinAccount, error) {
	return selectAccount(ctx, s.db, userID)
}

func (s *SQLiteLedger) ListTransactions(ctx context.Context, userID string, limit int) ([]entity.CoinTransaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, direction, amount, feature, description, success, error, balance_after, created_at
		FROM coin_transactions WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []entity.CoinTransaction
	for rows.Next() {
		var t entity.CoinTransaction
		var dir string
		var success int
		var created int64
		if err := rows.Scan(&t.ID, &t.UserID, &dir, &t.Amount, &t.Feature, &t.Description, &success, &t.Error, &t.BalanceAfter, &created); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		t.Direction = entity.Direction(dir)
		t.Success = success == 1
		t.Timestamp = time.Unix(0, created).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteLedger) ListUsage(ctx context.Context, userID string, limit int) ([]entity.UsageRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, feature, provider, detail, created_at
		FROM usage_records WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	var out []entity.UsageRecord
	for rows.Next() {
		var r entity.UsageRecord
		var created int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Feature, &r.Provider, &r.Detail, &created); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		r.Timestamp = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func selectAccount(ctx context.Context, q querier, userID string) (*entity.CoinAccount, error) {
	var acc entity.CoinAccount
	var updated int64
	err := q.QueryRowContext(ctx, "SELECT user_id, balance, updated_at FROM coin_accounts WHERE user_id = ?", userID).
		Scan(&acc.UserID, &acc.Balance, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	acc.UpdatedAt = time.Unix(0, updated).UTC()
	return &acc, nil
}

func insertTransaction(ctx context.Context, q querier, t entity.CoinTransaction) error {
	success := 0
	if t.Success {
		success = 1
	}
	_, err := q.ExecContext(ctx, `INSERT INTO coin_transactions
		(id, user_id, direction, amount, feature, description, success, error, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.Direction), t.Amount, t.Feature, t.Description, success, t.Error, t.BalanceAfter, t.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

// sqliteTx executes writes immediately inside the open transaction and keeps
// the first error so RunTx can roll back.
type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
	err error
}

func (t *sqliteTx) Account(userID string) (*entity.CoinAccount, error) {
	return selectAccount(t.ctx, t.tx, userID)
}

func (t *sqliteTx) PutAccount(acc entity.CoinAccount) {
	if t.err != nil {
		return
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO coin_accounts (user_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
		acc.UserID, acc.Balance, acc.UpdatedAt.UnixNano())
	if err != nil {
		t.err = fmt.Errorf("writing account: %w", err)
	}
}

func (t *sqliteTx) AppendTransaction(txn entity.CoinTransaction) {
	if t.err != nil {
		return
	}
	t.err = insertTransaction(t.ctx, t.tx, txn)
}

func (t *sqliteTx) AppendUsage(rec entity.UsageRecord) {
	if t.err != nil {
		return
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO usage_records (id, user_id, feature, provider, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, rec.ID, rec.UserID, rec.Feature, rec.Provider, rec.Detail, rec.Timestamp.UnixNano())
	if err != nil {
		t.err = fmt.Errorf("inserting usage record: %w", err)
	}
}

func (t *sqliteTx) IdempotentTx(key string, now time.Time) (string, bool, error) {
	var txID string
	err := t.tx.QueryRowContext(t.ctx, "SELECT transaction_id FROM idempotency_keys WHERE key = ? AND expires_at > ?",
		key, now.UnixNano()).Scan(&txID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying idempotency key: %w", err)
	}
	return txID, true, nil
}

func (t *sqliteTx) RememberIdempotent(key, txID string, now time.Time, ttl time.Duration) {
	if t.err != nil {
		return
	}
	_, err := t.tx.ExecContext(t.ctx, "INSERT OR REPLACE INTO idempotency_keys (key, transaction_id, expires_at) VALUES (?, ?, ?)",
		key, txID, now.Add(ttl).UnixNano())
	if err != nil {
		t.err = fmt.Errorf("recording idempotency key: %w", err)
	}
}
