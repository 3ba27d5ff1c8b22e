package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	redis "github.com/redis/go-redis/v9"

	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

const keyPrefix = "mmlu:operator"

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	URL          string
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
}

// redisClient is the subset of *redis.Client the store uses.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// RedisStore keeps responses in Redis so they survive restarts. Keys are
// scoped by operator address, so several operators can share one instance.
type RedisStore struct {
	client   redisClient
	operator common.Address
	ttl      time.Duration
	logger   logging.Logger
}

var _ ResponseStore = (*RedisStore)(nil)

// NewRedisStore connects to cfg.URL and checks the connection with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig, operator common.Address, logger logging.Logger) (*RedisStore, error) {
	opt, err := parseRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	s := newRedisStoreWithClient(client, cfg.TTL, operator, logger)

	timeout := cfg.PingTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("Connected to Redis response store", "addr", opt.Addr, "db", opt.DB)
	return s, nil
}

func newRedisStoreWithClient(client redisClient, ttl time.Duration, operator common.Address, logger logging.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	return &RedisStore{client: client, operator: operator, ttl: ttl, logger: logger}
}

func parseRedisConfig(cfg RedisConfig) (*redis.Options, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}
	return opt, nil
}

func (s *RedisStore) key(taskIndex uint32) string {
	return fmt.Sprintf("%s:%s:response:%d", keyPrefix, strings.ToLower(s.operator.Hex()), taskIndex)
}

func (s *RedisStore) MarkResponded(ctx context.Context, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if err := s.client.Set(ctx, s.key(resp.TaskIndex), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store response for task %d: %w", resp.TaskIndex, err)
	}
	s.logger.Debug("Stored task response", "task", resp.TaskIndex, "ttl", s.ttl)
	return nil
}

func (s *RedisStore) HasResponded(ctx context.Context, taskIndex uint32) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(taskIndex)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up response for task %d: %w", taskIndex, err)
	}
	return n > 0, nil
}

// Get returns the stored response for taskIndex. The bool is false when none exists.
func (s *RedisStore) Get(ctx context.Context, taskIndex uint32) (Response, bool, error) {
	raw, err := s.client.Get(ctx, s.key(taskIndex)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, fmt.Errorf("failed to read response for task %d: %w", taskIndex, err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false, fmt.Errorf("failed to decode response for task %d: %w", taskIndex, err)
	}
	return resp, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
