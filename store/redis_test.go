package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/effective-security/toolbridge/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	rediscon "github.com/testcontainers/testcontainers-go/modules/redis"
)

func Test_RedisStore(t *testing.T) {
	ctx := context.Background()
	redisContainer, err := rediscon.Run(ctx, "redis:7",
		testcontainers.WithConfigModifier(func(config *container.Config) {
			config.Env = []string{
				"ALLOW_EMPTY_PASSWORD=yes",
				"REDIS_PASSWORD=redis",
				"REDIS_TLS_PORT=16379",
			}
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, redisContainer.Terminate(ctx))
	})

	state, err := redisContainer.State(ctx)
	require.NoError(t, err)
	require.True(t, state.Running)

	root := fmt.Sprintf("test-%d", time.Now().Unix())

	host, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	options, err := redis.ParseURL(host)
	require.NoError(t, err)

	client := redis.NewClient(options)

	rs := client.Ping(ctx) // Ensure the connection is established
	require.NoError(t, rs.Err(), "failed to connect to Redis")

	st := store.NewRedisStore(client, root)

	_, found, err := st.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, st.Set(ctx, "k1", []byte(`{"result":"hi"}`), 0))
	val, found, err := st.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte(`{"result":"hi"}`), val)

	// entries with a TTL expire server-side
	require.NoError(t, st.Set(ctx, "short", []byte("v"), time.Second))
	_, found, err = st.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, found)

	require.Eventually(t, func() bool {
		_, found, err := st.Get(ctx, "short")
		return err == nil && !found
	}, 5*time.Second, 100*time.Millisecond)

	require.NoError(t, st.Delete(ctx, "k1"))
	_, found, err = st.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)

	// deleting an absent key is a no-op
	require.NoError(t, st.Delete(ctx, "k1"))

	// keys from different prefixes do not collide
	other := store.NewRedisStore(client, root+"-other")
	require.NoError(t, other.Set(ctx, "k1", []byte("other"), 0))
	_, found, err = st.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)
}
