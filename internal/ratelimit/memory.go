package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCapacity is returned when the memory limiter tracks too many live keys.
var ErrCapacity = errors.New("ratelimit: capacity exceeded")

type memoryBucket struct {
	count     int
	windowEnd time.Time
}

// Memory is a single-process Limiter.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	data    map[string]*memoryBucket
	maxKeys int
}

var _ Limiter = (*Memory)(nil)

// NewMemory builds a Memory limiter. A nil now uses time.Now; maxKeys <= 0
// defaults to 10000.
func NewMemory(now func() time.Time, maxKeys int) *Memory {
	if now == nil {
		now = time.Now
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &Memory{now: now, data: make(map[string]*memoryBucket), maxKeys: maxKeys}
}

func (m *Memory) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Unlimited{}.Allow(ctx, key, limit, window)
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.data[key]
	if !ok || !now.Before(b.windowEnd) {
		if !ok && len(m.data) >= m.maxKeys {
			m.gc(now)
			if len(m.data) >= m.maxKeys {
				return Decision{}, ErrCapacity
			}
		}
		b = &memoryBucket{windowEnd: now.Add(window)}
		m.data[key] = b
	}

	b.count++
	remaining := limit - b.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   b.count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   b.windowEnd,
	}, nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) gc(now time.Time) {
	for k, b := range m.data {
		if !now.Before(b.windowEnd) {
			delete(m.data, k)
		}
	}
}
