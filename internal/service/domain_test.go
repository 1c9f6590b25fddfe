package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

func TestDomainService(t *testing.T) {
	ctx := context.Background()

	t.Run("创建并查询域名", func(t *testing.T) {
		f := newFixture(t)
		created, err := f.domains.Create(ctx, " Mail.Example.NET. ")
		require.NoError(t, err)
		assert.Equal(t, "mail.example.net", created.Name)

		byName, err := f.domains.ResolveByName(ctx, "MAIL.example.net")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byName.ID)

		byID, err := f.domains.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "mail.example.net", byID.Name)

		all, err := f.domains.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("重复域名", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.domains.Create(ctx, "example.com")
		assert.ErrorIs(t, err, ErrDomainExists)
		assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
	})

	t.Run("非法域名", func(t *testing.T) {
		f := newFixture(t)
		for _, name := range []string{"", "bad_domain.com", "-lead.com", "a..b"} {
			_, err := f.domains.Create(ctx, name)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest, name)
		}
	})

	t.Run("未知域名", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.domains.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrUnknownDomain)
		_, err = f.domains.ResolveByName(ctx, "")
		assert.ErrorIs(t, err, domain.ErrUnknownDomain)
		_, err = f.domains.Resolve(ctx, "missing.org")
		assert.ErrorIs(t, err, domain.ErrUnknownDomain)
	})

	t.Run("缓存命中时不访问存储", func(t *testing.T) {
		f := newFixture(t)
		counting := &countingDomainRepo{DomainRepository: f.store}
		svc := NewDomainService(counting, nil)

		_, err := svc.ResolveByName(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, counting.calls)

		cached := NewDomainService(counting, f.domains.cache)
		for i := 0; i < 3; i++ {
			d, err := cached.ResolveByName(ctx, "example.com")
			require.NoError(t, err)
			d.Name = "mutated"
		}
		assert.Equal(t, 2, counting.calls)

		d, err := cached.GetByID(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "example.com", d.Name)
		assert.Equal(t, 2, counting.calls)
	})

	t.Run("存储故障", func(t *testing.T) {
		svc := NewDomainService(&countingDomainRepo{err: errors.New("timeout")}, nil)
		_, err := svc.ResolveByName(ctx, "example.com")
		assert.Equal(t, domain.KindStorageError, domain.KindOf(err))
	})
}

// countingDomainRepo 统计按名称查询的次数
type countingDomainRepo struct {
	storage.DomainRepository
	calls int
	err   error
}

func (r *countingDomainRepo) GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.DomainRepository.GetDomainByName(ctx, name)
}
