package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// LocalCache 本地内存缓存（L1 缓存）
//
// 特点：
// - 使用 sync.Map 实现无锁读取
// - 支持 TTL 过期
// - 后台定期清理过期条目，Close 后停止
// - 超过容量时先淘汰过期条目，仍不足则随机淘汰一条
type LocalCache struct {
	data    sync.Map
	size    atomic.Int64
	maxSize int
	ttl     time.Duration

	stop      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，<= 0 表示不限制
//   - ttl: 默认过期时间
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	c := &LocalCache{
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
		now:     time.Now,
	}

	// 启动定期清理
	go c.cleanupLoop(time.Minute)

	return c
}

// Get 获取缓存值
func (c *LocalCache) Get(key string) (interface{}, bool) {
	val, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}

	entry := val.(*cacheEntry)

	// 检查是否过期
	if c.now().After(entry.expiresAt) {
		c.Delete(key)
		return nil, false
	}

	return entry.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (c *LocalCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}

	if c.maxSize > 0 && c.size.Load() >= int64(c.maxSize) {
		if _, exists := c.data.Load(key); !exists {
			c.evict()
		}
	}

	entry := &cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}

	if _, loaded := c.data.Swap(key, entry); !loaded {
		c.size.Add(1)
	}
}

// Delete 删除缓存值
func (c *LocalCache) Delete(key string) {
	if _, loaded := c.data.LoadAndDelete(key); loaded {
		c.size.Add(-1)
	}
}

// Len 返回当前条目数
func (c *LocalCache) Len() int {
	return int(c.size.Load())
}

// Close 停止后台清理
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
}

// evict 淘汰过期条目，全部未过期时淘汰遇到的第一条
func (c *LocalCache) evict() {
	if c.purgeExpired() > 0 {
		return
	}
	c.data.Range(func(key, _ interface{}) bool {
		c.Delete(key.(string))
		return false
	})
}

// purgeExpired 删除所有过期条目，返回删除数量
func (c *LocalCache) purgeExpired() int {
	now := c.now()
	removed := 0
	c.data.Range(func(key, value interface{}) bool {
		entry := value.(*cacheEntry)
		if now.After(entry.expiresAt) {
			c.Delete(key.(string))
			removed++
		}
		return true
	})
	return removed
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}
