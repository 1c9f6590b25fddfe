package storage

import (
	"context"
	"errors"
	"time"

	"meru/backend/internal/domain"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 违反唯一约束
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict 事务冲突（序列化失败、死锁或乐观锁失败）
	ErrConflict = errors.New("transaction conflict")
)

// DomainRepository 定义邮件域名数据存取操作。
type DomainRepository interface {
	CreateDomain(ctx context.Context, d *domain.MailDomain) error
	GetDomainByID(ctx context.Context, id string) (*domain.MailDomain, error)
	GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error)
	ListDomains(ctx context.Context) ([]domain.MailDomain, error)
}

// UserRepository 定义用户数据存取操作。
//
// CreateUser 同时占用 (domain, name) 身份，身份已被用户或别名占用时返回 ErrDuplicate。
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByAddress(ctx context.Context, localPart, domainName string) (*domain.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error
}

// AliasRepository 定义别名数据存取操作。
//
// CreateAlias 同样占用 (domain, source) 身份。
type AliasRepository interface {
	CreateAlias(ctx context.Context, alias *domain.Alias) error
}

// IdentityRepository 查询用户与别名共享的身份命名空间。
type IdentityRepository interface {
	IdentityExists(ctx context.Context, domainID, localPart string) (bool, error)
}

// InviteRepository 定义邀请码数据存取操作。
type InviteRepository interface {
	CreateInvite(ctx context.Context, invite *domain.Invite) error
	// FindRedeemableInvite 查找指定域名下未兑换的邀请码，SQL 实现会锁定该行
	FindRedeemableInvite(ctx context.Context, code, domainID string) (*domain.Invite, error)
	// RedeemInvite 仅当邀请码仍未兑换时更新状态，否则返回 ErrNotFound
	RedeemInvite(ctx context.Context, inviteID, userID string, consumedAt time.Time) error
}

// SessionRepository 定义会话数据存取操作。
type SessionRepository interface {
	// ReplaceUserSession 原子地删除用户已有会话并写入新会话
	ReplaceUserSession(ctx context.Context, session *domain.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// DeleteSessionByTokenHash 删除会话，不存在时不报错
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	// DeleteSessionsCreatedBefore 清理创建时间早于 cutoff 的会话，返回删除数量
	DeleteSessionsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories 事务内可用的仓储集合。
type Repositories interface {
	DomainRepository
	UserRepository
	AliasRepository
	IdentityRepository
	InviteRepository
}

// Store 聚合所有存储接口。
type Store interface {
	Repositories
	SessionRepository

	// WithTx 在单个事务中执行 fn，fn 返回错误时整体回滚
	WithTx(ctx context.Context, fn func(tx Repositories) error) error
	Health(ctx context.Context) error
	Close() error
}
