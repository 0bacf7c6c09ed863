// File: internal/infra/cache/memory.go
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"longform-pipeline/internal/domain/ports/repository"
)

var _ repository.CacheBackend = (*Memory)(nil)

type memItem struct {
	val       []byte
	expiresAt time.Time // zero = never
}

// Memory is a process-local CacheBackend. Expired items are dropped lazily
// on read and, when a sweeper runs, periodically.
type Memory struct {
	items sync.Map // string -> memItem
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.items.Load(key)
	if !ok {
		return nil, false, nil
	}
	it := v.(memItem)
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		m.items.CompareAndDelete(key, v)
		return nil, false, nil
	}
	out := make([]byte, len(it.val))
	copy(out, it.val)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := memItem{val: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.items.Store(key, it)
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Len counts live and not-yet-swept items.
func (m *Memory) Len() int {
	n := 0
	m.items.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep removes every expired item and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	removed := 0
	m.items.Range(func(k, v any) bool {
		it := v.(memItem)
		if !it.expiresAt.IsZero() && !now.Before(it.expiresAt) {
			if m.items.CompareAndDelete(k, v) {
				removed++
			}
		}
		return true
	})
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *Memory) StartSweeper(ctx context.Context, interval time.Duration, log *zerolog.Logger) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := m.Sweep(); n > 0 && log != nil {
					log.Debug().Int("removed", n).Msg("cache sweep")
				}
			}
		}
	}()
}
