package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket for single-instance deployments.
// A key idle for a full window has a full bucket again, so it is dropped.
type MemoryLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	every     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryLimiter(capacity int, window time.Duration) *MemoryLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	every := rate.Inf
	if window > 0 {
		every = rate.Every(window / time.Duration(capacity))
	}
	return &MemoryLimiter{
		visitors: make(map[string]*visitor),
		every:    every,
		burst:    capacity,
		idle:     window,
		now:      time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(m.every, m.burst)}
		m.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// Len reports how many keys are currently tracked.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visitors)
}

func (m *MemoryLimiter) sweep(now time.Time) {
	if m.idle <= 0 || now.Sub(m.lastSweep) < m.idle {
		return
	}
	m.lastSweep = now
	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) >= m.idle {
			delete(m.visitors, key)
		}
	}
}
