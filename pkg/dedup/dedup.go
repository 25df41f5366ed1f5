// Package dedup guards outbound sends against double submission of the same
// client token, and backs the message-id window used before broadcasts.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Cache is an in-flight token set. Add is an atomic check-and-insert: it
// returns false when a live entry for the token already exists.
type Cache interface {
	Add(ctx context.Context, token string) (bool, error)
	Remove(ctx context.Context, token string) error
	Find(ctx context.Context, token string) (bool, error)
}

// Memory is a process-local Cache. A zero ttl keeps entries until removed.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	nowFn   func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		nowFn:   time.Now,
	}
}

func (m *Memory) Add(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if at, ok := m.entries[token]; ok && !m.expired(at, now) {
		return false, nil
	}
	m.entries[token] = now
	return true, nil
}

func (m *Memory) Remove(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.entries, token)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Find(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.entries[token]
	if !ok {
		return false, nil
	}
	if m.expired(at, m.nowFn()) {
		delete(m.entries, token)
		return false, nil
	}
	return true, nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	removed := 0
	for token, at := range m.entries {
		if m.expired(at, now) {
			delete(m.entries, token)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *Memory) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

func (m *Memory) expired(at, now time.Time) bool {
	return m.ttl > 0 && now.Sub(at) >= m.ttl
}
