package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meru/backend/internal/cache"
	"meru/backend/internal/domain"
	"meru/backend/internal/monitoring"
)

const (
	limiterIdleTTL = 10 * time.Minute
	maxTrackedIPs  = 100000
)

// LoginRateLimiter 按客户端 IP 限制登录频率
type LoginRateLimiter struct {
	mu       sync.Mutex
	limiters *cache.LocalCache
	limit    rate.Limit
	burst    int
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewLoginRateLimiter 创建登录限流器，perMinute 为每分钟补充的令牌数
func NewLoginRateLimiter(perMinute, burst int, metrics *monitoring.Metrics, log *zap.Logger) *LoginRateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	if burst <= 0 {
		burst = 1
	}
	return &LoginRateLimiter{
		limiters: cache.NewLocalCache(maxTrackedIPs, limiterIdleTTL),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		metrics:  metrics,
		log:      log,
	}
}

// Middleware 超出频率时返回 429
func (l *LoginRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.Allow(ip) {
			l.metrics.RecordRateLimitBlock("login")
			l.log.Warn("login rate limited", zap.String("ip", ip))
			abortWithError(c, domain.ErrRateLimited, "请求过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}

// Allow 判断该 IP 当前能否继续尝试
func (l *LoginRateLimiter) Allow(ip string) bool {
	return l.limiter(ip).Allow()
}

func (l *LoginRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if val, ok := l.limiters.Get(ip); ok {
		limiter := val.(*rate.Limiter)
		l.limiters.Set(ip, limiter, limiterIdleTTL)
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Set(ip, limiter, limiterIdleTTL)
	return limiter
}

// Close 停止后台清理
func (l *LoginRateLimiter) Close() {
	l.limiters.Close()
}
