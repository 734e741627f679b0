package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether another event under key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory is a fixed-window counter kept in process memory.
// A non-positive limit allows everything.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count int
	reset time.Time
}

// NewMemory creates an in-memory limiter allowing limit events per window.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow counts an event under key.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	if m == nil || m.limit <= 0 {
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok || !now.Before(b.reset) {
		b = &bucket{reset: now.Add(m.window)}
		m.buckets[key] = b
		m.sweepLocked(now)
	}
	b.count++
	return b.count <= m.limit, nil
}

// Forget drops the counter for key.
func (m *Memory) Forget(key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.buckets, key)
	m.mu.Unlock()
}

// sweepLocked drops expired buckets so idle keys do not accumulate.
func (m *Memory) sweepLocked(now time.Time) {
	if len(m.buckets) < 1024 {
		return
	}
	for k, b := range m.buckets {
		if !now.Before(b.reset) {
			delete(m.buckets, k)
		}
	}
}

var _ Limiter = (*Memory)(nil)
