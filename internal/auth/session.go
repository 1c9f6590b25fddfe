package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meru/backend/internal/domain"
	"meru/backend/internal/monitoring"
	"meru/backend/internal/storage"
)

// CredentialStore 会话管理所需的用户存储接口
type CredentialStore interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByAddress(ctx context.Context, localPart, domainName string) (*domain.User, error)
	GetDomainByID(ctx context.Context, id string) (*domain.MailDomain, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error
}

// LoginResult 登录结果，Token 只在此处以明文出现
type LoginResult struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionManager 签发、校验与撤销登录会话，每个用户最多一个会话
type SessionManager struct {
	users    CredentialStore
	sessions storage.SessionRepository
	codec    *Codec
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
	metrics  *monitoring.Metrics

	dummyOnce sync.Once
	dummyHash string
}

// SessionOption 会话管理器选项
type SessionOption func(*SessionManager)

// WithTTL 设置会话有效期
func WithTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock 替换时间源
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithLogger 设置日志记录器
func WithLogger(log *zap.Logger) SessionOption {
	return func(m *SessionManager) {
		m.log = log
	}
}

// WithMetrics 设置监控指标
func WithMetrics(metrics *monitoring.Metrics) SessionOption {
	return func(m *SessionManager) {
		m.metrics = metrics
	}
}

// NewSessionManager 创建会话管理器
func NewSessionManager(users CredentialStore, sessions storage.SessionRepository, codec *Codec, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		users:    users,
		sessions: sessions,
		codec:    codec,
		ttl:      domain.DefaultSessionTTL,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL 返回会话有效期
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Authenticate 按完整邮箱地址校验密码，返回用户与规范化后的地址
//
// 用户不存在、域名不存在、地址格式错误与密码错误返回同一个 ErrInvalidCredentials，
// 用户不存在时仍会校验一个占位哈希，使各种情况耗时接近。
func (m *SessionManager) Authenticate(ctx context.Context, email, password string) (*domain.User, string, error) {
	localPart, domainName, ok := domain.SplitAddress(email)

	var user *domain.User
	if ok {
		found, err := m.users.GetUserByAddress(ctx, localPart, domainName)
		switch {
		case err == nil:
			user = found
		case !errors.Is(err, storage.ErrNotFound):
			return nil, "", domain.StorageFailure("lookup user", err)
		}
	}

	target := m.placeholderHash()
	if user != nil {
		target = user.PasswordHash
	}
	matched := m.codec.Verify(password, target)
	if user == nil || !matched {
		return nil, "", domain.ErrInvalidCredentials
	}

	if m.codec.NeedsUpgrade(user.PasswordHash) {
		m.upgradeHash(ctx, user.ID, password)
	}
	return user, localPart + "@" + domainName, nil
}

// Login 以完整邮箱地址登录，成功后替换该用户已有的会话
func (m *SessionManager) Login(ctx context.Context, email, password, clientIP string) (*LoginResult, error) {
	user, address, err := m.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			m.metrics.RecordLogin("invalid_credentials")
		} else {
			m.metrics.RecordLogin("error")
		}
		return nil, err
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		m.metrics.RecordLogin("error")
		return nil, domain.StorageFailure("issue session", err)
	}

	session := &domain.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: tokenHash,
		IPAddress: clientIP,
		CreatedAt: m.now().UTC(),
	}
	if err := m.sessions.ReplaceUserSession(ctx, session); err != nil {
		m.metrics.RecordLogin("error")
		return nil, domain.StorageFailure("replace session", err)
	}

	m.metrics.RecordLogin("success")
	m.log.Info("user logged in",
		zap.String("user_id", user.ID),
		zap.String("ip", clientIP),
	)

	return &LoginResult{
		Token:     token,
		UserID:    user.ID,
		Email:     address,
		ExpiresAt: session.CreatedAt.Add(m.ttl),
	}, nil
}

// Validate 校验会话令牌
//
// 令牌不存在、已超过有效期或客户端 IP 不一致时返回 nil（匿名），不删除记录。
func (m *SessionManager) Validate(ctx context.Context, token, clientIP string) (*domain.Principal, error) {
	if token == "" {
		m.metrics.RecordSessionValidation("anonymous")
		return nil, nil
	}

	session, err := m.sessions.GetSessionByTokenHash(ctx, HashSessionToken(token))
	if errors.Is(err, storage.ErrNotFound) {
		m.metrics.RecordSessionValidation("anonymous")
		return nil, nil
	}
	if err != nil {
		m.metrics.RecordSessionValidation("error")
		return nil, domain.StorageFailure("lookup session", err)
	}

	if session.ExpiredAt(m.now(), m.ttl) {
		m.metrics.RecordSessionValidation("expired")
		return nil, nil
	}
	if session.IPAddress != clientIP {
		m.metrics.RecordSessionValidation("ip_mismatch")
		return nil, nil
	}

	user, err := m.users.GetUserByID(ctx, session.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		m.metrics.RecordSessionValidation("anonymous")
		return nil, nil
	}
	if err != nil {
		m.metrics.RecordSessionValidation("error")
		return nil, domain.StorageFailure("lookup user", err)
	}

	d, err := m.users.GetDomainByID(ctx, user.DomainID)
	if err != nil {
		m.metrics.RecordSessionValidation("error")
		return nil, domain.StorageFailure("lookup domain", err)
	}

	m.metrics.RecordSessionValidation("valid")
	return &domain.Principal{
		UserID:  user.ID,
		Email:   user.Email(d.Name),
		IsAdmin: user.IsAdmin,
	}, nil
}

// Logout 删除令牌对应的会话，重复调用不报错
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.sessions.DeleteSessionByTokenHash(ctx, HashSessionToken(token)); err != nil {
		return domain.StorageFailure("delete session", err)
	}
	return nil
}

// RevokeUser 删除用户的所有会话
func (m *SessionManager) RevokeUser(ctx context.Context, userID string) error {
	if err := m.sessions.DeleteUserSessions(ctx, userID); err != nil {
		return domain.StorageFailure("revoke sessions", err)
	}
	return nil
}

// ExpireStale 清理已过期的会话
//
// 校验逻辑本身不依赖清理，这里只用于回收存储空间。
func (m *SessionManager) ExpireStale(ctx context.Context) (int64, error) {
	cutoff := m.now().UTC().Add(-m.ttl)
	count, err := m.sessions.DeleteSessionsCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, domain.StorageFailure("sweep sessions", err)
	}
	m.metrics.RecordSessionsSwept(count)
	return count, nil
}

// upgradeHash 用主算法重新生成旧格式的密码哈希，失败只记录日志
func (m *SessionManager) upgradeHash(ctx context.Context, userID, password string) {
	hash, err := m.codec.Hash(password)
	if err != nil {
		m.log.Warn("failed to rehash password", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if err := m.users.UpdatePassword(ctx, userID, hash, m.now().UTC()); err != nil {
		m.log.Warn("failed to store upgraded password hash", zap.String("user_id", userID), zap.Error(err))
	}
}

// placeholderHash 返回一个用主算法生成、不对应任何账户的哈希
func (m *SessionManager) placeholderHash() string {
	m.dummyOnce.Do(func() {
		secret, err := randomHex(16)
		if err == nil {
			m.dummyHash, err = m.codec.Hash(secret)
		}
		if err != nil {
			m.log.Warn("failed to prepare placeholder hash", zap.Error(err))
		}
	})
	return m.dummyHash
}
