package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type storedValue struct {
	value string
	ttl   time.Duration
}

// mockRedisClient keeps keys in memory. The Mock* hooks override a method
// when set.
type mockRedisClient struct {
	mu     sync.Mutex
	data   map[string]storedValue
	closed bool

	MockSet    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	MockExists func(ctx context.Context, keys ...string) (int64, error)
	MockGet    func(ctx context.Context, key string) (string, error)
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{data: make(map[string]storedValue)}
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if m.MockSet != nil {
		if err := m.MockSet(ctx, key, value, expiration); err != nil {
			return redis.NewStatusResult("", err)
		}
		return redis.NewStatusResult("OK", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var v string
	switch b := value.(type) {
	case []byte:
		v = string(b)
	case string:
		v = b
	default:
		v = fmt.Sprint(b)
	}
	m.data[key] = storedValue{value: v, ttl: expiration}
	return redis.NewStatusResult("OK", nil)
}

func (m *mockRedisClient) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	if m.MockExists != nil {
		return redis.NewIntResult(m.MockExists(ctx, keys...))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.MockGet != nil {
		return redis.NewStringResult(m.MockGet(ctx, key))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v.value, nil)
}

func (m *mockRedisClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockRedisClient) ttl(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key].ttl
}

func (m *mockRedisClient) put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = storedValue{value: value}
}
