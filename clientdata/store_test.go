package clientdata

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-sockets/message"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	session := "srv-" + uuid.NewString()

	t.Run("get missing key", func(t *testing.T) {
		_, found, err := s.Get(ctx, Key(session, 1))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("put then get", func(t *testing.T) {
		in := message.ClientData{ID: "alice", Meta: map[string]string{"room": "blue"}}
		require.NoError(t, s.Put(ctx, Key(session, 1), in))

		out, found, err := s.Get(ctx, Key(session, 1))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, in, out)
	})

	t.Run("put replaces", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, Key(session, 1), message.ClientData{ID: "alice2"}))
		out, _, err := s.Get(ctx, Key(session, 1))
		require.NoError(t, err)
		assert.Equal(t, "alice2", out.ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, Key(session, 2), message.ClientData{ID: "bob"}))
		require.NoError(t, s.Delete(ctx, Key(session, 2)))
		require.NoError(t, s.Delete(ctx, Key(session, 2)))

		_, found, err := s.Get(ctx, Key(session, 2))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("delete by session prefix", func(t *testing.T) {
		other := "srv-" + uuid.NewString()
		require.NoError(t, s.Put(ctx, Key(session, 3), message.ClientData{ID: "c"}))
		require.NoError(t, s.Put(ctx, Key(other, 3), message.ClientData{ID: "d"}))

		n, err := s.DeletePrefix(ctx, SessionPrefix(session))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, found, err := s.Get(ctx, Key(other, 3))
		require.NoError(t, err)
		assert.True(t, found)

		_, err = s.DeletePrefix(ctx, SessionPrefix(other))
		require.NoError(t, err)
	})
}

func TestKey(t *testing.T) {
	assert.Equal(t, "abc:7", Key("abc", 7))
	assert.Equal(t, "abc:", SessionPrefix("abc"))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(cache.NoExpiration, time.Minute)
	testStore(t, s)

	t.Run("count", func(t *testing.T) {
		ctx := context.Background()
		before, err := s.Count(ctx, "")
		require.NoError(t, err)

		require.NoError(t, s.Put(ctx, "x:1", message.ClientData{ID: "x"}))
		require.NoError(t, s.Put(ctx, "x:2", message.ClientData{ID: "x"}))
		require.NoError(t, s.Put(ctx, "y:1", message.ClientData{ID: "y"}))

		all, err := s.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, before+3, all)

		xs, err := s.Count(ctx, SessionPrefix("x"))
		require.NoError(t, err)
		assert.Equal(t, 2, xs)
	})

	t.Run("stored meta is not shared with the caller", func(t *testing.T) {
		ctx := context.Background()
		meta := map[string]string{"k": "v"}
		require.NoError(t, s.Put(ctx, "m:1", message.ClientData{ID: "m", Meta: meta}))
		meta["k"] = "changed"

		out, _, err := s.Get(ctx, "m:1")
		require.NoError(t, err)
		assert.Equal(t, "v", out.Meta["k"])
	})

	t.Run("entries expire", func(t *testing.T) {
		short := NewMemoryStore(20*time.Millisecond, time.Minute)
		ctx := context.Background()
		require.NoError(t, short.Put(ctx, "e:1", message.ClientData{ID: "e"}))

		assert.Eventually(t, func() bool {
			_, found, _ := short.Get(ctx, "e:1")
			return !found
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, s.Put(ctx, "c:1", message.ClientData{}), context.Canceled)
		_, _, err := s.Get(ctx, "c:1")
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, s.Delete(ctx, "c:1"), context.Canceled)
		_, err = s.Count(ctx, "")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// TestRedisStore runs against a real Redis when REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := "gosockets-test:" + uuid.NewString() + ":"
	s := NewRedisStore(client, prefix, time.Minute)
	testStore(t, s)

	t.Run("count only sees own prefix", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "x:1", message.ClientData{ID: "x"}))

		n, err := s.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Count(ctx, SessionPrefix("y"))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = s.DeletePrefix(ctx, "")
		require.NoError(t, err)
	})
}
