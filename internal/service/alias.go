package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

// AliasInput 创建别名的输入
type AliasInput struct {
	Domain      string // 域名名称
	Source      string // 别名本地部分
	Destination string // 转发目标完整地址
}

// AliasService 管理员维护别名，别名与用户共享身份命名空间
type AliasService struct {
	store      storage.Store
	domains    *DomainService
	identities IdentityChecker
	now        func() time.Time
	log        *zap.Logger
}

// NewAliasService 创建别名服务
func NewAliasService(store storage.Store, domains *DomainService, log *zap.Logger) *AliasService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AliasService{
		store:   store,
		domains: domains,
		now:     time.Now,
		log:     log,
	}
}

// Create 创建别名，身份已被用户或别名占用时返回 ErrIdentityTaken
func (s *AliasService) Create(ctx context.Context, input AliasInput) (*domain.Alias, error) {
	source := domain.NormalizeName(input.Source)
	if err := domain.ValidateName(source); err != nil {
		return nil, err
	}
	destLocal, destDomain, ok := domain.SplitAddress(input.Destination)
	if !ok {
		return nil, fmt.Errorf("%w: invalid destination address", domain.ErrInvalidRequest)
	}

	mailDomain, err := s.domains.ResolveByName(ctx, input.Domain)
	if err != nil {
		return nil, err
	}

	alias := &domain.Alias{
		ID:          uuid.New().String(),
		DomainID:    mailDomain.ID,
		Source:      source,
		Destination: destLocal + "@" + destDomain,
		CreatedAt:   s.now().UTC(),
	}

	err = s.store.WithTx(ctx, func(tx storage.Repositories) error {
		taken, err := s.identities.IsIdentityTaken(ctx, tx, mailDomain.ID, source)
		if err != nil {
			return err
		}
		if taken {
			return domain.ErrIdentityTaken
		}
		if err := tx.CreateAlias(ctx, alias); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return domain.ErrIdentityTaken
			}
			return classify("create alias", err)
		}
		return nil
	})
	if err != nil {
		return nil, txError("create alias", err)
	}

	s.log.Info("alias created",
		zap.String("alias_id", alias.ID),
		zap.String("domain_id", mailDomain.ID),
	)
	return alias, nil
}
