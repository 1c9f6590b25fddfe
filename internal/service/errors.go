package service

import (
	"errors"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

// ErrDomainExists 域名已存在
var ErrDomainExists = errors.New("domain already exists")

// classify 保留已分类的业务错误，其余错误包装为存储错误
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStorage) || domain.KindOf(err) != domain.KindStorageError {
		return err
	}
	return domain.StorageFailure(op, err)
}

// txError 把提交阶段才暴露的唯一约束冲突归为身份冲突
func txError(op string, err error) error {
	if errors.Is(err, storage.ErrDuplicate) && !errors.Is(err, domain.ErrStorage) {
		return domain.ErrIdentityTaken
	}
	return classify(op, err)
}
