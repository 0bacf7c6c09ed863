package cache

import (
	"context"
	"sync"
	"time"

	"longform-pipeline/internal/domain/ports/repository"
)

var _ repository.RateLimiter = (*Limiter)(nil)

// Limiter is the single-process fixed-window counter used when no Redis is
// configured.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count int
	reset time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{windows: map[string]*window{}, now: time.Now}
}

func (l *Limiter) Allow(_ context.Context, key string, limit int, period time.Duration) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(period)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= limit, nil
}
