package memory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/tutor/internal/config"
)

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "tutor:memory:abc", RedisKey("abc"))
}

func TestStateEncoding(t *testing.T) {
	data, err := encodeState(State{CompactSummary: "s", LastConsolidatedTurn: 2})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"insights":[]`)

	st, err := decodeState(data)
	require.NoError(t, err)
	assert.Equal(t, 2, st.LastConsolidatedTurn)

	_, err = decodeState([]byte("{"))
	assert.Error(t, err)
}

// setupRedis connects to the server named by TUTOR_TEST_REDIS_ADDR.
func setupRedis(t *testing.T) *RedisStore {
	addr := os.Getenv("TUTOR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TUTOR_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(config.RedisConfig{Addr: addr}, time.Minute)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore_RoundTrip(t *testing.T) {
	s := setupRedis(t)
	ctx := context.Background()
	id := "test-" + t.Name()
	defer s.Delete(ctx, id)

	_, ok, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, id, State{Topic: "recursão", LastConsolidatedTurn: 4}))
	st, ok, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "recursão", st.Topic)
}
