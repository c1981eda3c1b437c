// Package ratelimit implements ports.RateLimiter as daily counters.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory keeps counters in process. Counters for past days are dropped when a
// newer day is seen.
type Memory struct {
	mu     sync.Mutex
	day    string
	counts map[string]int
}

func NewMemory() *Memory { return &Memory{counts: map[string]int{}} }

func (m *Memory) Allow(ctx context.Context, key string, limit int, day time.Time) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	d := day.Format(time.DateOnly)
	m.mu.Lock()
	defer m.mu.Unlock()
	if d != m.day {
		m.day = d
		m.counts = map[string]int{}
	}
	if m.counts[key] >= limit {
		return false, nil
	}
	m.counts[key]++
	return true, nil
}

func (m *Memory) Refund(ctx context.Context, key string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if day.Format(time.DateOnly) == m.day && m.counts[key] > 0 {
		m.counts[key]--
	}
	return nil
}
