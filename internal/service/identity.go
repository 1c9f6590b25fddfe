package service

import (
	"context"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

// IdentityChecker 判断 (域名, 本地部分) 是否已被用户或别名占用
//
// 查询必须使用事务内的仓储；真正的并发保护来自存储层的身份唯一约束，
// 这里的检查只让常见冲突提前以 IdentityTaken 返回。
type IdentityChecker struct{}

// IsIdentityTaken 返回身份是否已被占用，用户与别名不做区分
func (IdentityChecker) IsIdentityTaken(ctx context.Context, repo storage.IdentityRepository, domainID, localPart string) (bool, error) {
	taken, err := repo.IdentityExists(ctx, domainID, domain.NormalizeName(localPart))
	if err != nil {
		return false, classify("check identity", err)
	}
	return taken, nil
}
