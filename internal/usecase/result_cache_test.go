package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/infra/cache"
)

func TestResultCache_StoreLookupIdempotent(t *testing.T) {
	rc := newTestCache()
	ctx := context.Background()
	scope := model.PrivateScope("org-a", model.CategoryGeneration)

	_, err := rc.Store(ctx, "fp", scope, []byte("one"), time.Hour)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		e, ok, err := rc.Lookup(ctx, "fp", scope)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("one"), e.Payload)
	}

	require.NoError(t, rc.Invalidate(ctx, "fp", scope))
	_, ok, _ := rc.Lookup(ctx, "fp", scope)
	assert.False(t, ok)
}

func TestResultCache_ExpiryCheckedOnRead(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	rc := NewResultCache(cache.NewMemory(), &nopLog).WithClock(clock)
	ctx := context.Background()
	scope := model.PrivateScope("org-a", model.CategoryEvidence)

	_, err := rc.Store(ctx, "fp", scope, []byte("x"), time.Minute)
	require.NoError(t, err)
	now = now.Add(time.Minute)
	_, ok, err := rc.Lookup(ctx, "fp", scope)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResultCache_ScopesAreDisjoint(t *testing.T) {
	rc := newTestCache()
	ctx := context.Background()
	a := model.PrivateScope("org-a", model.CategoryEvidence)
	b := model.PrivateScope("org-b", model.CategoryEvidence)

	_, err := rc.Store(ctx, "fp", a, []byte("a's"), time.Hour)
	require.NoError(t, err)
	_, ok, _ := rc.Lookup(ctx, "fp", b)
	assert.False(t, ok)
	_, ok, _ = rc.Lookup(ctx, "fp", model.SharedScope(model.CategoryEvidence))
	assert.False(t, ok)
}

func TestResultCache_SingleFlight(t *testing.T) {
	rc := newTestCache()
	scope := model.PrivateScope("org-a", model.CategoryGeneration)
	var computes atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		computes.Add(1)
		<-release
		return []byte("payload"), nil
	}

	const n = 16
	var wg sync.WaitGroup
	entries := make([]*model.CacheEntry, n)
	hits := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, hit, err := rc.GetOrCompute(context.Background(), "fp", scope, time.Hour, compute)
			assert.NoError(t, err)
			entries[i], hits[i] = e, hit
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, computes.Load())
	misses := 0
	for i := range entries {
		require.NotNil(t, entries[i])
		assert.Equal(t, []byte("payload"), entries[i].Payload)
		if !hits[i] {
			misses++
		}
	}
	assert.Equal(t, 1, misses, "only the computing caller reports a miss")

	_, hit, err := rc.GetOrCompute(context.Background(), "fp", scope, time.Hour, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.EqualValues(t, 1, computes.Load())
}

func TestResultCache_DifferentKeysDoNotBlock(t *testing.T) {
	rc := newTestCache()
	scope := model.PrivateScope("org-a", model.CategoryGeneration)
	block := make(chan struct{})
	defer close(block)

	go func() {
		_, _, _ = rc.GetOrCompute(context.Background(), "slow", scope, time.Hour, func(context.Context) ([]byte, error) {
			<-block
			return []byte("slow"), nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, hit, err := rc.GetOrCompute(ctx, "fast", scope, time.Hour, func(context.Context) ([]byte, error) {
		return []byte("fast"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("fast"), e.Payload)
}

func TestResultCache_ComputeErrorIsNotStored(t *testing.T) {
	rc := newTestCache()
	scope := model.PrivateScope("org-a", model.CategoryGeneration)
	boom := errors.New("boom")

	_, _, err := rc.GetOrCompute(context.Background(), "fp", scope, time.Hour, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok, _ := rc.Lookup(context.Background(), "fp", scope)
	assert.False(t, ok)
}

type fakeLocker struct {
	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
	unlocked    atomic.Int32
}

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return f.TryLockFunc(ctx, key, ttl)
}

func (f *fakeLocker) Unlock(context.Context, string, string) error {
	f.unlocked.Add(1)
	return nil
}

func TestResultCache_WaitsForRemoteFlight(t *testing.T) {
	backend := cache.NewMemory()
	remote := NewResultCache(backend, &nopLog)
	locker := &fakeLocker{TryLockFunc: func(context.Context, string, time.Duration) (string, error) {
		return "", domain.ErrLockNotAcquired
	}}
	rc := NewResultCache(backend, &nopLog).WithLocker(locker, time.Second).WithPollInterval(5 * time.Millisecond)
	scope := model.PrivateScope("org-a", model.CategoryGeneration)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = remote.Store(context.Background(), "fp", scope, []byte("remote"), time.Hour)
	}()

	var computed bool
	e, hit, err := rc.GetOrCompute(context.Background(), "fp", scope, time.Hour, func(context.Context) ([]byte, error) {
		computed = true
		return []byte("local"), nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.False(t, computed)
	assert.Equal(t, []byte("remote"), e.Payload)
}

func TestResultCache_HoldsLockWhileComputing(t *testing.T) {
	locker := &fakeLocker{TryLockFunc: func(context.Context, string, time.Duration) (string, error) {
		return "tok", nil
	}}
	rc := newTestCache().WithLocker(locker, time.Second)
	scope := model.PrivateScope("org-a", model.CategoryGeneration)

	_, hit, err := rc.GetOrCompute(context.Background(), "fp", scope, time.Hour, func(context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.EqualValues(t, 1, locker.unlocked.Load())
}

func TestResultCache_StarterLeavingDoesNotFailWaiters(t *testing.T) {
	rc := newTestCache()
	scope := model.PrivateScope("org-a", model.CategoryGeneration)
	started := make(chan struct{})
	release := make(chan struct{})
	var computes atomic.Int32
	compute := func(ctx context.Context) ([]byte, error) {
		computes.Add(1)
		close(started)
		select {
		case <-release:
			return []byte("shared"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	starterCtx, cancelStarter := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, _, err := rc.GetOrCompute(starterCtx, "fp", scope, time.Hour, compute)
		starterErr <- err
	}()
	<-started

	type outcome struct {
		e   *model.CacheEntry
		err error
	}
	waiter := make(chan outcome, 1)
	go func() {
		e, _, err := rc.GetOrCompute(context.Background(), "fp", scope, time.Hour, compute)
		waiter <- outcome{e, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelStarter()
	assert.ErrorIs(t, <-starterErr, context.Canceled)

	close(release)
	got := <-waiter
	require.NoError(t, got.err)
	assert.Equal(t, []byte("shared"), got.e.Payload)
	assert.EqualValues(t, 1, computes.Load())

	e, ok, err := rc.Lookup(context.Background(), "fp", scope)
	require.NoError(t, err)
	require.True(t, ok, "the abandoned computation still fills the cache")
	assert.Equal(t, []byte("shared"), e.Payload)
}

func TestResultCache_FlightTimeoutBoundsComputation(t *testing.T) {
	rc := newTestCache().WithFlightTimeout(20 * time.Millisecond)
	scope := model.PrivateScope("org-a", model.CategoryGeneration)

	_, _, err := rc.GetOrCompute(context.Background(), "fp", scope, time.Hour, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// fakeBackend wraps a memory backend; Func fields override single calls.
type fakeBackend struct {
	*cache.Memory
	GetFunc func(ctx context.Context, key string) ([]byte, bool, error)
	dels    atomic.Int32
}

func (f *fakeBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.GetFunc != nil {
		return f.GetFunc(ctx, key)
	}
	return f.Memory.Get(ctx, key)
}

func (f *fakeBackend) Del(ctx context.Context, key string) error {
	f.dels.Add(1)
	return f.Memory.Del(ctx, key)
}

func TestResultCache_ExpiredReadLeavesFreshEntry(t *testing.T) {
	now := time.Now()
	scope := model.PrivateScope("org-a", model.CategoryGeneration)
	backend := &fakeBackend{Memory: cache.NewMemory()}
	rc := NewResultCache(backend, &nopLog).WithClock(func() time.Time { return now })
	ctx := context.Background()

	stale, err := json.Marshal(model.CacheEntry{Fingerprint: "fp", Scope: scope, Payload: []byte("old"), CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	// the read sees the stale bytes while a concurrent store has already
	// replaced them
	backend.GetFunc = func(context.Context, string) ([]byte, bool, error) { return stale, true, nil }
	_, err = rc.Store(ctx, "fp", scope, []byte("fresh"), time.Hour)
	require.NoError(t, err)

	_, ok, err := rc.Lookup(ctx, "fp", scope)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, backend.dels.Load())

	backend.GetFunc = nil
	e, ok, err := rc.Lookup(ctx, "fp", scope)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), e.Payload)
}
