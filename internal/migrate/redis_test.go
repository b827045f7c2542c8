package migrate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/model"
)

// startRedis starts a Redis container and returns its URL.
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return "redis://" + endpoint
}

func TestRedisSourceMigration(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	for k, v := range legacyFixture() {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, rdb.Set(ctx, k, b, 0).Err())
	}
	require.NoError(t, rdb.Set(ctx, "unrelated", "x", 0).Err())

	src, err := NewRedisSource(ctx, url)
	require.NoError(t, err)
	defer src.Close()

	keys, err := src.Keys(ctx, LegacyMemoryPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{LegacyMemoryPrefix + "b1", LegacyMemoryPrefix + "b2"}, keys)

	e := newEnv(t)
	rep, err := New(e.kv, e.log, src, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Bots)
	assert.Equal(t, 3, rep.Memories)

	core, err := e.log.ListByType(ctx, "b1", model.MemoryCore)
	require.NoError(t, err)
	assert.Len(t, core, 1)

	n, err := rdb.Exists(ctx, LegacyBotsKey, LegacyMemoryPrefix+"b1", LegacyMemoryPrefix+"b2").Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	v, err := rdb.Get(ctx, "unrelated").Result()
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestNewRedisSourceBadURL(t *testing.T) {
	_, err := NewRedisSource(context.Background(), "not-a-url")
	assert.Error(t, err)
}
