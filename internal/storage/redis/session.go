package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

const (
	tokenKeyPrefix = "session:token:"
	userKeyPrefix  = "session:user:"
	createdIndex   = "session:created" // ZSET: tokenHash -> 创建时间（微秒）
)

// SessionStore 以 Redis 保存会话，实现 storage.SessionRepository
//
// 会话键的 TTL 比会话有效期多一分钟，Redis 自行淘汰残留会话；
// 有效性仍由调用方按创建时间判断。
type SessionStore struct {
	rdb goredis.UniversalClient
	ttl time.Duration
}

var _ storage.SessionRepository = (*SessionStore)(nil)

// sessionRecord 会话的序列化形式
type sessionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"tokenHash"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewSessionStore 创建 Redis 会话存储，ttl 为会话有效期
func NewSessionStore(rdb goredis.UniversalClient, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = domain.DefaultSessionTTL
	}
	return &SessionStore{rdb: rdb, ttl: ttl + time.Minute}
}

func tokenKey(tokenHash string) string { return tokenKeyPrefix + tokenHash }
func userKey(userID string) string     { return userKeyPrefix + userID }

// ReplaceUserSession 用 WATCH/MULTI 原子地替换用户会话
func (s *SessionStore) ReplaceUserSession(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(sessionRecord{
		ID:        session.ID,
		UserID:    session.UserID,
		TokenHash: session.TokenHash,
		IPAddress: session.IPAddress,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	uKey := userKey(session.UserID)
	return s.watch(ctx, func(tx *goredis.Tx) error {
		previous, err := tx.Get(ctx, uKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if previous != "" {
				pipe.Del(ctx, tokenKey(previous))
				pipe.ZRem(ctx, createdIndex, previous)
			}
			pipe.Set(ctx, tokenKey(session.TokenHash), data, s.ttl)
			pipe.Set(ctx, uKey, session.TokenHash, s.ttl)
			pipe.ZAdd(ctx, createdIndex, goredis.Z{
				Score:  float64(session.CreatedAt.UnixMicro()),
				Member: session.TokenHash,
			})
			return nil
		})
		return err
	}, uKey)
}

// GetSessionByTokenHash 根据令牌哈希获取会话
func (s *SessionStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	data, err := s.rdb.Get(ctx, tokenKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &domain.Session{
		ID:        rec.ID,
		UserID:    rec.UserID,
		TokenHash: rec.TokenHash,
		IPAddress: rec.IPAddress,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// DeleteSessionByTokenHash 删除会话，不存在时不报错
func (s *SessionStore) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := s.deleteByTokenHash(ctx, tokenHash)
	return err
}

// DeleteUserSessions 删除用户的会话
func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) error {
	uKey := userKey(userID)
	return s.watch(ctx, func(tx *goredis.Tx) error {
		tokenHash, err := tx.Get(ctx, uKey).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, uKey, tokenKey(tokenHash))
			pipe.ZRem(ctx, createdIndex, tokenHash)
			return nil
		})
		return err
	}, uKey)
}

// DeleteSessionsCreatedBefore 清理创建时间早于 cutoff 的会话
func (s *SessionStore) DeleteSessionsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	hashes, err := s.rdb.ZRangeByScore(ctx, createdIndex, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, tokenHash := range hashes {
		existed, err := s.deleteByTokenHash(ctx, tokenHash)
		if err != nil {
			return removed, err
		}
		if existed {
			removed++
		}
	}
	return removed, nil
}

// deleteByTokenHash 删除会话及其用户索引，返回会话是否仍存在
func (s *SessionStore) deleteByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	tKey := tokenKey(tokenHash)
	existed := false
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		existed = false
		data, err := tx.Get(ctx, tKey).Bytes()
		if errors.Is(err, goredis.Nil) {
			// 键已被 TTL 淘汰，只需清理索引
			return tx.ZRem(ctx, createdIndex, tokenHash).Err()
		}
		if err != nil {
			return err
		}

		var rec sessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		uKey := userKey(rec.UserID)
		current, err := tx.Get(ctx, uKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, tKey)
			if current == tokenHash {
				pipe.Del(ctx, uKey)
			}
			pipe.ZRem(ctx, createdIndex, tokenHash)
			return nil
		})
		if err == nil {
			existed = true
		}
		return err
	}, tKey)
	return existed, err
}

// watch 执行一次乐观事务，被监视的键在提交前被修改时返回 storage.ErrConflict，不自动重试
func (s *SessionStore) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	err := s.rdb.Watch(ctx, fn, keys...)
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: session keys changed concurrently", storage.ErrConflict)
	}
	return err
}
