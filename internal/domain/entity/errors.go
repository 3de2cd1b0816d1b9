package entity

import "errors"

// Standard domain errors
var (
	ErrInvalidInput       = errors.New("invalid request parameters")
	ErrUnauthenticated    = errors.New("missing or invalid identity")
	ErrEmailNotVerified   = errors.New("email address is not verified")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded: too many requests")
	ErrSuspiciousTraffic  = errors.New("suspicious traffic detected")
	ErrProvidersExhausted = errors.New("all AI providers failed")

	// Ledger
	ErrInsufficientFunds = errors.New("insufficient coin balance")
	ErrAccountNotFound   = errors.New("coin account not found")
	ErrTxConflict        = errors.New("ledger transaction conflict")
	ErrInvalidAmount     = errors.New("amount must be a positive integer")
	ErrBatchRejected     = errors.New("ledger batch rejected")
)
