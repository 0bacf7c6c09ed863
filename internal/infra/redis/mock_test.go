package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// mockRedisClient is an in-memory RedisClient. Func fields override the
// default behavior per test.
type mockRedisClient struct {
	mu   sync.Mutex
	data map[string]string

	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNXFunc  func(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	// RunScriptFunc replaces the script emulation entirely.
	RunScriptFunc func(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)

	expires map[string]time.Duration
}

var _ RedisClient = &mockRedisClient{}

func newMockRedis() *mockRedisClient {
	return &mockRedisClient{data: map[string]string{}, expires: map[string]time.Duration{}}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return ""
}

func (m *mockRedisClient) Ping(context.Context) error { return nil }
func (m *mockRedisClient) Close() error               { return nil }

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, expiration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	m.expires[key] = expiration
	return nil
}

func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if m.SetNXFunc != nil {
		return m.SetNXFunc(ctx, key, value, expiration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = toString(value)
	return true, nil
}

func (m *mockRedisClient) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.data[key] {
		n = n*10 + int64(c-'0')
	}
	n++
	m.data[key] = itoa(n)
	return n, nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	if m.ExpireFunc != nil {
		return m.ExpireFunc(ctx, key, expiration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = expiration
	return nil
}

func (m *mockRedisClient) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// RunScript emulates the unlock and set-if-newer scripts.
func (m *mockRedisClient) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	if m.RunScriptFunc != nil {
		return m.RunScriptFunc(ctx, script, keys, args...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if script == luaSetIfNewer {
		if cur, ok := m.data[keys[0]]; ok {
			stored, _ := strconv.ParseInt(cur[:versionWidth], 10, 64)
			if stored >= args[0].(int64) {
				return int64(0), nil
			}
		}
		m.data[keys[0]] = toString(args[1])
		m.expires[keys[0]] = time.Duration(args[2].(int64)) * time.Millisecond
		return int64(1), nil
	}
	if m.data[keys[0]] == toString(args[0]) {
		delete(m.data, keys[0])
		return int64(1), nil
	}
	return int64(0), nil
}
