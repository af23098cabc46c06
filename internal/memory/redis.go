package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jeanpaul/tutor/internal/config"
)

var _ Store = (*RedisStore)(nil)

const redisKeyPrefix = "tutor:memory:"

// RedisStore keeps session state as JSON values that expire with the
// session.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects and verifies the server is reachable.
func NewRedisStore(cfg config.RedisConfig, ttl time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

// RedisKey is the key holding a session's state.
func RedisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (State, bool, error) {
	data, err := r.rdb.Get(ctx, RedisKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("redis get: %w", err)
	}
	st, err := decodeState(data)
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func (r *RedisStore) Save(ctx context.Context, sessionID string, st State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, RedisKey(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return r.rdb.Del(ctx, RedisKey(sessionID)).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func encodeState(st State) ([]byte, error) {
	if st.Insights == nil {
		st.Insights = []Insight{}
	}
	return json.Marshal(st)
}

func decodeState(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode memory state: %w", err)
	}
	return st, nil
}
