package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meru/backend/internal/cache"
	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

const domainCacheTTL = 5 * time.Minute

// DomainService 邮件域名查询与管理
//
// 域名创建后不可变，查询结果可以放心缓存。
type DomainService struct {
	repo  storage.DomainRepository
	cache *cache.LocalCache
	now   func() time.Time
}

// NewDomainService 创建域名服务，domainCache 为 nil 时不缓存
func NewDomainService(repo storage.DomainRepository, domainCache *cache.LocalCache) *DomainService {
	return &DomainService{
		repo:  repo,
		cache: domainCache,
		now:   time.Now,
	}
}

// GetByID 按 ID 查询域名
func (s *DomainService) GetByID(ctx context.Context, id string) (*domain.MailDomain, error) {
	if d, ok := s.cached("id:" + id); ok {
		return d, nil
	}
	d, err := s.repo.GetDomainByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(err)
	}
	s.remember(d)
	return copyDomain(d), nil
}

// ResolveByName 按名称查询域名，名称会先规范化
func (s *DomainService) ResolveByName(ctx context.Context, name string) (*domain.MailDomain, error) {
	name = domain.NormalizeDomain(name)
	if name == "" {
		return nil, domain.ErrUnknownDomain
	}
	if d, ok := s.cached("name:" + name); ok {
		return d, nil
	}
	d, err := s.repo.GetDomainByName(ctx, name)
	if err != nil {
		return nil, s.lookupError(err)
	}
	s.remember(d)
	return copyDomain(d), nil
}

// Resolve 接受域名 ID 或域名名称
//
// 邀请链接携带的是域名 ID，注册表单也可能直接提交名称。
func (s *DomainService) Resolve(ctx context.Context, ref string) (*domain.MailDomain, error) {
	d, err := s.GetByID(ctx, ref)
	if err == nil || !errors.Is(err, domain.ErrUnknownDomain) {
		return d, err
	}
	return s.ResolveByName(ctx, ref)
}

// Create 添加域名
func (s *DomainService) Create(ctx context.Context, name string) (*domain.MailDomain, error) {
	name = domain.NormalizeDomain(name)
	if err := domain.ValidateDomainName(name); err != nil {
		return nil, err
	}

	d := &domain.MailDomain{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateDomain(ctx, d); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, ErrDomainExists)
		}
		return nil, classify("create domain", err)
	}
	return copyDomain(d), nil
}

// List 列出全部域名
func (s *DomainService) List(ctx context.Context) ([]domain.MailDomain, error) {
	domains, err := s.repo.ListDomains(ctx)
	if err != nil {
		return nil, classify("list domains", err)
	}
	return domains, nil
}

func (s *DomainService) lookupError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrUnknownDomain
	}
	return classify("lookup domain", err)
}

func (s *DomainService) cached(key string) (*domain.MailDomain, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	return copyDomain(v.(*domain.MailDomain)), true
}

func (s *DomainService) remember(d *domain.MailDomain) {
	if s.cache == nil {
		return
	}
	stored := copyDomain(d)
	s.cache.Set("id:"+stored.ID, stored, domainCacheTTL)
	s.cache.Set("name:"+stored.Name, stored, domainCacheTTL)
}

func copyDomain(d *domain.MailDomain) *domain.MailDomain {
	c := *d
	return &c
}
