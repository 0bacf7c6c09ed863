// File: internal/usecase/result_cache.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/repository"
	"longform-pipeline/internal/infra/metrics"
)

// ComputeFunc produces the payload for a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// ResultCache stores stage artifacts by (scope, fingerprint). Entries are
// immutable; concurrent misses for one key share a single computation.
type ResultCache struct {
	backend       repository.CacheBackend
	locker        repository.Locker
	lockTTL       time.Duration
	poll          time.Duration
	flightTimeout time.Duration
	group         singleflight.Group
	now           func() time.Time
	log           *zerolog.Logger
}

func NewResultCache(backend repository.CacheBackend, log *zerolog.Logger) *ResultCache {
	l := log.With().Str("component", "result_cache").Logger()
	return &ResultCache{
		backend:       backend,
		poll:          100 * time.Millisecond,
		flightTimeout: 15 * time.Minute,
		now:           time.Now,
		log:           &l,
	}
}

// WithLocker enables cross-process coalescing: the process computing a key
// holds a lock for at most ttl while others poll for its result.
func (c *ResultCache) WithLocker(l repository.Locker, ttl time.Duration) *ResultCache {
	c.locker = l
	c.lockTTL = ttl
	return c
}

// WithFlightTimeout bounds a shared computation. The computation outlives
// the caller that started it, so this is its only deadline.
func (c *ResultCache) WithFlightTimeout(d time.Duration) *ResultCache {
	if d > 0 {
		c.flightTimeout = d
	}
	return c
}

func (c *ResultCache) WithClock(now func() time.Time) *ResultCache {
	c.now = now
	return c
}

func (c *ResultCache) WithPollInterval(d time.Duration) *ResultCache {
	if d > 0 {
		c.poll = d
	}
	return c
}

func cacheKey(fp string, scope model.CacheScope) string {
	return "cache:" + scope.Key() + ":" + fp
}

// Lookup returns the live entry for fp in scope. Expired and unreadable
// entries are reported as misses; unreadable ones are also removed.
func (c *ResultCache) Lookup(ctx context.Context, fp string, scope model.CacheScope) (*model.CacheEntry, bool, error) {
	cat := string(scope.Category)
	key := cacheKey(fp, scope)
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		metrics.IncCacheRequest(cat, "error")
		return nil, false, err
	}
	if !ok {
		metrics.IncCacheRequest(cat, "miss")
		return nil, false, nil
	}
	var e model.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("dropping unreadable cache entry")
		_ = c.backend.Del(ctx, key)
		metrics.IncCacheRequest(cat, "miss")
		return nil, false, nil
	}
	if e.Expired(c.now()) {
		// left to the backend TTL: a Del here could remove a fresh entry
		// stored under the same key since the Get
		metrics.IncCacheRequest(cat, "expired")
		return nil, false, nil
	}
	metrics.IncCacheRequest(cat, "hit")
	return &e, true, nil
}

// Store writes a new entry, replacing any previous one under the same key.
func (c *ResultCache) Store(ctx context.Context, fp string, scope model.CacheScope, payload []byte, ttl time.Duration) (*model.CacheEntry, error) {
	now := c.now()
	e := &model.CacheEntry{
		Fingerprint: fp,
		Scope:       scope,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if err := c.backend.Set(ctx, cacheKey(fp, scope), b, ttl); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *ResultCache) Invalidate(ctx context.Context, fp string, scope model.CacheScope) error {
	return c.backend.Del(ctx, cacheKey(fp, scope))
}

type flight struct {
	entry *model.CacheEntry
	hit   bool
}

// GetOrCompute returns the cached entry or runs compute exactly once per key
// across concurrent callers. hit is false only for the caller whose compute
// produced the entry. Compute errors are returned to every waiter and nothing
// is stored. The computation keeps the starting caller's context values but
// not its cancellation: a caller that leaves only stops its own wait.
func (c *ResultCache) GetOrCompute(ctx context.Context, fp string, scope model.CacheScope, ttl time.Duration, compute ComputeFunc) (*model.CacheEntry, bool, error) {
	if e, ok, err := c.Lookup(ctx, fp, scope); err == nil && ok {
		return e, true, nil
	} else if err != nil {
		c.log.Warn().Err(err).Str("fingerprint", fp).Msg("cache lookup failed; computing")
	}

	key := cacheKey(fp, scope)
	leader := false
	ch := c.group.DoChan(key, func() (any, error) {
		leader = true
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()
		// a flight that finished just before this one may already have stored
		if e, ok, _ := c.Lookup(fctx, fp, scope); ok {
			return flight{entry: e, hit: true}, nil
		}
		return c.computeLocked(fctx, key, fp, scope, ttl, compute)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if !leader {
			metrics.IncCacheRequest(string(scope.Category), "coalesced")
		}
		if res.Err != nil {
			return nil, false, res.Err
		}
		f := res.Val.(flight)
		return f.entry, f.hit || !leader, nil
	}
}

func (c *ResultCache) computeLocked(ctx context.Context, key, fp string, scope model.CacheScope, ttl time.Duration, compute ComputeFunc) (flight, error) {
	if c.locker != nil && c.lockTTL > 0 {
		token, err := c.locker.TryLock(ctx, "lock:"+key, c.lockTTL)
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired):
			if e, ok := c.awaitRemote(ctx, fp, scope); ok {
				metrics.IncCacheRequest(string(scope.Category), "coalesced")
				return flight{entry: e, hit: true}, nil
			}
			if ctx.Err() != nil {
				return flight{}, ctx.Err()
			}
			c.log.Debug().Str("key", key).Msg("remote flight did not finish in time; computing locally")
		case err != nil:
			c.log.Warn().Err(err).Str("key", key).Msg("cache lock unavailable; computing without it")
		default:
			defer func() {
				if err := c.locker.Unlock(context.WithoutCancel(ctx), "lock:"+key, token); err != nil {
					c.log.Warn().Err(err).Str("key", key).Msg("cache unlock failed")
				}
			}()
		}
	}

	payload, err := compute(ctx)
	if err != nil {
		return flight{}, err
	}
	e, err := c.Store(ctx, fp, scope, payload, ttl)
	if err != nil {
		// the artifact is still good; the next caller recomputes
		c.log.Warn().Err(err).Str("key", key).Msg("cache store failed")
		now := c.now()
		e = &model.CacheEntry{Fingerprint: fp, Scope: scope, Payload: payload, CreatedAt: now}
	}
	return flight{entry: e}, nil
}

// awaitRemote polls for an entry another process is computing, until the
// remote lock would have expired.
func (c *ResultCache) awaitRemote(ctx context.Context, fp string, scope model.CacheScope) (*model.CacheEntry, bool) {
	deadline := time.NewTimer(c.lockTTL)
	defer deadline.Stop()
	tick := time.NewTicker(c.poll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-tick.C:
			if e, ok, err := c.Lookup(ctx, fp, scope); err == nil && ok {
				return e, true
			}
		}
	}
}
