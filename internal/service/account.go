package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meru/backend/internal/auth"
	"meru/backend/internal/domain"
	"meru/backend/internal/monitoring"
	"meru/backend/internal/storage"
)

// AccountInput 注册账户的输入
type AccountInput struct {
	Name       string
	Password   string
	InviteCode string
	Domain     string // 域名 ID 或域名名称
}

// AccountResult 注册结果，不包含任何敏感字段
type AccountResult struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// AccountService 凭邀请码开通邮箱账户并管理密码
type AccountService struct {
	store      storage.Store
	domains    *DomainService
	invites    *InviteService
	identities IdentityChecker
	codec      *auth.Codec
	sessions   *auth.SessionManager
	now        func() time.Time
	log        *zap.Logger
	metrics    *monitoring.Metrics
}

// NewAccountService 创建账户服务
func NewAccountService(
	store storage.Store,
	domains *DomainService,
	invites *InviteService,
	codec *auth.Codec,
	sessions *auth.SessionManager,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{
		store:    store,
		domains:  domains,
		invites:  invites,
		codec:    codec,
		sessions: sessions,
		now:      time.Now,
		log:      log,
		metrics:  metrics,
	}
}

// CreateAccount 校验输入后在单个事务中兑换邀请码并创建用户
//
// 输入校验在事务之外完成；事务内任何一步失败都会整体回滚，
// 不会留下没有兑换记录的用户或已兑换却没有用户的邀请码。
func (s *AccountService) CreateAccount(ctx context.Context, input AccountInput) (*AccountResult, error) {
	result, err := s.createAccount(ctx, input)
	if err != nil {
		s.metrics.RecordAccountRejected(string(domain.KindOf(err)))
		return nil, err
	}
	s.metrics.RecordAccountCreated()
	return result, nil
}

func (s *AccountService) createAccount(ctx context.Context, input AccountInput) (*AccountResult, error) {
	name := domain.NormalizeName(input.Name)
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.codec.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	mailDomain, err := s.domains.Resolve(ctx, input.Domain)
	if err != nil {
		return nil, err
	}

	// 哈希计算较慢，放在事务之外以免长时间持有行锁
	hash, err := s.codec.Hash(input.Password)
	if err != nil {
		return nil, domain.StorageFailure("hash password", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		DomainID:     mailDomain.ID,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.WithTx(ctx, func(tx storage.Repositories) error {
		taken, err := s.identities.IsIdentityTaken(ctx, tx, mailDomain.ID, name)
		if err != nil {
			return err
		}
		if taken {
			return domain.ErrIdentityTaken
		}

		// 邀请码行锁与 identities 主键共同保证并发注册的互斥
		invite, err := s.invites.FindRedeemable(ctx, tx, input.InviteCode, mailDomain.ID)
		if err != nil {
			return err
		}

		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return domain.ErrIdentityTaken
			}
			return classify("create user", err)
		}

		return s.invites.Redeem(ctx, tx, invite, user.ID)
	})
	if err != nil {
		return nil, txError("create account", err)
	}

	s.log.Info("account created",
		zap.String("user_id", user.ID),
		zap.String("domain_id", mailDomain.ID),
	)
	return &AccountResult{UserID: user.ID, Email: user.Email(mailDomain.Name)}, nil
}

// ChangePassword 校验旧密码后更新密码，并撤销该用户的会话
func (s *AccountService) ChangePassword(ctx context.Context, email, oldPassword, newPassword string) error {
	if err := s.codec.ValidatePassword(newPassword); err != nil {
		return err
	}

	user, _, err := s.sessions.Authenticate(ctx, email, oldPassword)
	if err != nil {
		return err
	}

	hash, err := s.codec.Hash(newPassword)
	if err != nil {
		return domain.StorageFailure("hash password", err)
	}
	if err := s.store.UpdatePassword(ctx, user.ID, hash, s.now().UTC()); err != nil {
		return classify("update password", err)
	}
	if err := s.sessions.RevokeUser(ctx, user.ID); err != nil {
		return err
	}

	s.metrics.RecordPasswordChanged()
	s.log.Info("password changed", zap.String("user_id", user.ID))
	return nil
}

// CreateAdmin 初始化时创建管理员账户，不需要邀请码
func (s *AccountService) CreateAdmin(ctx context.Context, email, password string) (*AccountResult, error) {
	localPart, domainName, ok := domain.SplitAddress(email)
	if !ok {
		return nil, domain.ErrInvalidName
	}
	if err := domain.ValidateName(localPart); err != nil {
		return nil, err
	}
	if err := s.codec.ValidatePassword(password); err != nil {
		return nil, err
	}

	mailDomain, err := s.domains.ResolveByName(ctx, domainName)
	if err != nil {
		return nil, err
	}

	hash, err := s.codec.Hash(password)
	if err != nil {
		return nil, domain.StorageFailure("hash password", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		DomainID:     mailDomain.ID,
		Name:         localPart,
		PasswordHash: hash,
		IsAdmin:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.WithTx(ctx, func(tx storage.Repositories) error {
		taken, err := s.identities.IsIdentityTaken(ctx, tx, mailDomain.ID, localPart)
		if err != nil {
			return err
		}
		if taken {
			return domain.ErrIdentityTaken
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return domain.ErrIdentityTaken
			}
			return classify("create user", err)
		}
		return nil
	})
	if err != nil {
		return nil, txError("create admin", err)
	}

	s.log.Info("administrator created", zap.String("user_id", user.ID))
	return &AccountResult{UserID: user.ID, Email: user.Email(mailDomain.Name)}, nil
}
