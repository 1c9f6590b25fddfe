package sql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

// repo 基于 *gorm.DB 的仓储实现，既可用于连接也可用于事务
type repo struct {
	db   *gorm.DB
	inTx bool
}

// ========== Domain Repository ==========

func (r *repo) CreateDomain(ctx context.Context, d *domain.MailDomain) error {
	return mapError(r.db.WithContext(ctx).Create(d).Error)
}

func (r *repo) GetDomainByID(ctx context.Context, id string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&d).Error; err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (r *repo) GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := r.db.WithContext(ctx).Where("name = ?", name).Take(&d).Error; err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (r *repo) ListDomains(ctx context.Context) ([]domain.MailDomain, error) {
	var domains []domain.MailDomain
	if err := r.db.WithContext(ctx).Order("name").Find(&domains).Error; err != nil {
		return nil, mapError(err)
	}
	return domains, nil
}

// ========== User Repository ==========

// CreateUser 先占用身份再写入用户，调用方需处于事务中
func (r *repo) CreateUser(ctx context.Context, user *domain.User) error {
	if !r.inTx {
		return fmt.Errorf("create user outside transaction")
	}
	db := r.db.WithContext(ctx)
	if err := db.Create(&identity{DomainID: user.DomainID, LocalPart: user.Name, Kind: "user"}).Error; err != nil {
		return mapError(err)
	}
	return mapError(db.Create(user).Error)
}

func (r *repo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&u).Error; err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (r *repo) GetUserByAddress(ctx context.Context, localPart, domainName string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).
		Joins("JOIN domains ON domains.id = users.domain_id").
		Where("domains.name = ? AND users.name = ?", domainName, localPart).
		Take(&u).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (r *repo) UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"password_hash": passwordHash, "updated_at": updatedAt})
	if result.Error != nil {
		return mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ========== Alias / Identity Repository ==========

// CreateAlias 先占用身份再写入别名，调用方需处于事务中
func (r *repo) CreateAlias(ctx context.Context, alias *domain.Alias) error {
	if !r.inTx {
		return fmt.Errorf("create alias outside transaction")
	}
	db := r.db.WithContext(ctx)
	if err := db.Create(&identity{DomainID: alias.DomainID, LocalPart: alias.Source, Kind: "alias"}).Error; err != nil {
		return mapError(err)
	}
	return mapError(db.Create(alias).Error)
}

func (r *repo) IdentityExists(ctx context.Context, domainID, localPart string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&identity{}).
		Where("domain_id = ? AND local_part = ?", domainID, localPart).
		Count(&count).Error
	if err != nil {
		return false, mapError(err)
	}
	return count > 0, nil
}

// ========== Invite Repository ==========

func (r *repo) CreateInvite(ctx context.Context, invite *domain.Invite) error {
	return mapError(r.db.WithContext(ctx).Create(invite).Error)
}

// FindRedeemableInvite 锁定未兑换的邀请码行，并发兑换在此处排队
func (r *repo) FindRedeemableInvite(ctx context.Context, code, domainID string) (*domain.Invite, error) {
	var inv domain.Invite
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ? AND domain_id = ? AND status = ?", code, domainID, domain.InviteUnredeemed).
		Take(&inv).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &inv, nil
}

// RedeemInvite 带状态条件的更新，邀请码已被兑换时返回 ErrNotFound
func (r *repo) RedeemInvite(ctx context.Context, inviteID, userID string, consumedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Invite{}).
		Where("id = ? AND status = ?", inviteID, domain.InviteUnredeemed).
		Updates(map[string]any{
			"status":      domain.InviteRedeemed,
			"redeemed_by": userID,
			"consumed_at": consumedAt,
		})
	if result.Error != nil {
		return mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ========== Session Repository ==========

// ReplaceUserSession 以 user_id 唯一约束做 upsert，保证每个用户至多一个会话
func (s *Store) ReplaceUserSession(ctx context.Context, session *domain.Session) error {
	err := s.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"id", "token_hash", "ip_address", "created_at"}),
	}).Create(session).Error
	return mapError(err)
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var sess domain.Session
	if err := s.gormDB.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&sess).Error; err != nil {
		return nil, mapError(err)
	}
	return &sess, nil
}

func (s *Store) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	return mapError(s.gormDB.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&domain.Session{}).Error)
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	return mapError(s.gormDB.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.Session{}).Error)
}

func (s *Store) DeleteSessionsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.gormDB.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.Session{})
	if result.Error != nil {
		return 0, mapError(result.Error)
	}
	return result.RowsAffected, nil
}
