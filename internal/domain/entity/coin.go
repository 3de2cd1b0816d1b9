package entity

import "time"

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

type CoinAccount struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CoinTransaction is append-only. Failed attempts are recorded with Success=false.
type CoinTransaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Direction    Direction `json:"direction"`
	Amount       int64     `json:"amount"`
	Feature      string    `json:"feature"`
	Description  string    `json:"description"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	Timestamp    time.Time `json:"timestamp"`
}

// UsageRecord logs that a feature was used, independent of any balance change.
type UsageRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Feature   string    `json:"feature"`
	Provider  string    `json:"provider"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type LedgerResult struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    int64  `json:"new_balance"`
	Deduplicated  bool   `json:"deduplicated,omitempty"`
}

type LedgerStats struct {
	CurrentBalance    int64          `json:"current_balance"`
	TotalEarned       int64          `json:"total_earned"`
	TotalSpent        int64          `json:"total_spent"`
	FeaturesUsed      map[string]int `json:"features_used"`
	TransactionCount  int            `json:"transaction_count"`
	FailedCount       int            `json:"failed_count"`
	LastTransactionAt *time.Time     `json:"last_transaction_at,omitempty"`
}

type Reconciliation struct {
	UserID         string `json:"user_id"`
	StoredBalance  int64  `json:"stored_balance"`
	DerivedBalance int64  `json:"derived_balance"`
	Drift          int64  `json:"drift"`
}

// LedgerScope names every key a ledger transaction reads so the store can
// isolate them.
type LedgerScope struct {
	UserIDs         []string
	IdempotencyKeys []string
}
