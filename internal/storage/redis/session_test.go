package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meru/backend/internal/config"
	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSessionStore(rdb, time.Hour), mr
}

func newSession(id, userID, tokenHash string, createdAt time.Time) *domain.Session {
	return &domain.Session{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		IPAddress: "10.0.0.1",
		CreatedAt: createdAt,
	}
}

func TestSessionStore_ReplaceAndGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("写入后可按令牌哈希读取", func(t *testing.T) {
		require.NoError(t, store.ReplaceUserSession(ctx, newSession("s1", "u1", "hash-1", now)))

		got, err := store.GetSessionByTokenHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "s1", got.ID)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, "10.0.0.1", got.IPAddress)
		assert.True(t, now.Equal(got.CreatedAt))
	})

	t.Run("新会话替换旧会话", func(t *testing.T) {
		require.NoError(t, store.ReplaceUserSession(ctx, newSession("s2", "u1", "hash-2", now.Add(time.Second))))

		_, err := store.GetSessionByTokenHash(ctx, "hash-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		got, err := store.GetSessionByTokenHash(ctx, "hash-2")
		require.NoError(t, err)
		assert.Equal(t, "s2", got.ID)
	})

	t.Run("不存在的令牌", func(t *testing.T) {
		_, err := store.GetSessionByTokenHash(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestSessionStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.ReplaceUserSession(ctx, newSession("s1", "u1", "hash-1", now)))
	require.NoError(t, store.ReplaceUserSession(ctx, newSession("s2", "u2", "hash-2", now)))

	t.Run("按令牌删除并清理用户索引", func(t *testing.T) {
		require.NoError(t, store.DeleteSessionByTokenHash(ctx, "hash-1"))
		_, err := store.GetSessionByTokenHash(ctx, "hash-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.False(t, mr.Exists(userKey("u1")))
	})

	t.Run("删除不存在的会话不报错", func(t *testing.T) {
		assert.NoError(t, store.DeleteSessionByTokenHash(ctx, "hash-1"))
		assert.NoError(t, store.DeleteUserSessions(ctx, "nobody"))
	})

	t.Run("按用户删除", func(t *testing.T) {
		require.NoError(t, store.DeleteUserSessions(ctx, "u2"))
		_, err := store.GetSessionByTokenHash(ctx, "hash-2")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.False(t, mr.Exists(userKey("u2")))
	})
}

func TestSessionStore_DeleteSessionsCreatedBefore(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.ReplaceUserSession(ctx, newSession("s1", "u1", "old", base.Add(-3*time.Hour))))
	require.NoError(t, store.ReplaceUserSession(ctx, newSession("s2", "u2", "edge", base)))
	require.NoError(t, store.ReplaceUserSession(ctx, newSession("s3", "u3", "fresh", base.Add(time.Minute))))

	removed, err := store.DeleteSessionsCreatedBefore(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetSessionByTokenHash(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetSessionByTokenHash(ctx, "edge")
	assert.NoError(t, err)
	_, err = store.GetSessionByTokenHash(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSessionStore_KeyTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	require.NoError(t, store.ReplaceUserSession(ctx, newSession("s1", "u1", "hash-1", time.Now().UTC())))
	assert.Equal(t, time.Hour+time.Minute, mr.TTL(tokenKey("hash-1")))

	mr.FastForward(2 * time.Hour)
	_, err := store.GetSessionByTokenHash(ctx, "hash-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	removed, err := store.DeleteSessionsCreatedBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestNew(t *testing.T) {
	t.Run("连接成功", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := New(&config.RedisConfig{Address: mr.Addr()}, nil)
		require.NoError(t, err)
		assert.NoError(t, client.Ping(context.Background()))
		assert.NotNil(t, client.Client())
		assert.NoError(t, client.Close())
	})

	t.Run("连接失败", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		_, err := New(&config.RedisConfig{Address: addr}, nil)
		assert.Error(t, err)
	})
}

func TestSessionStore_WatchConflict(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	uKey := userKey("u1")

	t.Run("提交前键被修改时返回冲突且不重试", func(t *testing.T) {
		calls := 0
		err := store.watch(ctx, func(tx *goredis.Tx) error {
			calls++
			require.NoError(t, store.rdb.Set(ctx, uKey, "hash-other", 0).Err())

			_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, uKey, "hash-mine", 0)
				return nil
			})
			return err
		}, uKey)

		assert.ErrorIs(t, err, storage.ErrConflict)
		assert.Equal(t, 1, calls)

		current, err := store.rdb.Get(ctx, uKey).Result()
		require.NoError(t, err)
		assert.Equal(t, "hash-other", current)
	})

	t.Run("未被修改时正常提交", func(t *testing.T) {
		err := store.watch(ctx, func(tx *goredis.Tx) error {
			_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, uKey, "hash-mine", 0)
				return nil
			})
			return err
		}, uKey)
		require.NoError(t, err)

		current, err := store.rdb.Get(ctx, uKey).Result()
		require.NoError(t, err)
		assert.Equal(t, "hash-mine", current)
	})
}
