// Package postgres 基于 pgx 连接池的存储实现。
//
// 身份命名空间由 identities 表的主键保证：创建用户或别名时先在同一事务中
// 插入 identities 行，冲突直接表现为唯一约束错误，无需先查后写。
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

// querier 连接池与事务共有的查询接口
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool 存储依赖的连接池接口，*pgxpool.Pool 与 pgxmock 均满足
type Pool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store PostgreSQL 存储实现
type Store struct {
	*repo
	pool Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore 使用已建立的连接池创建存储
func NewStore(pool Pool) *Store {
	return &Store{repo: &repo{q: pool}, pool: pool}
}

// WithTx 在单个事务中执行 fn
//
// 使用默认的 READ COMMITTED 隔离级别：邀请码通过 FOR UPDATE 行锁串行化，
// 身份冲突由主键约束拦截。事务冲突以 storage.ErrConflict 返回，不自动重试。
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&repo{q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	committed = true
	return nil
}

// CreateUser 在独立事务中占用身份并创建用户
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	return s.WithTx(ctx, func(tx storage.Repositories) error {
		return tx.CreateUser(ctx, user)
	})
}

// CreateAlias 在独立事务中占用身份并创建别名
func (s *Store) CreateAlias(ctx context.Context, alias *domain.Alias) error {
	return s.WithTx(ctx, func(tx storage.Repositories) error {
		return tx.CreateAlias(ctx, alias)
	})
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 关闭连接池
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// repo 基于 querier 的仓储实现，既可用于连接池也可用于事务
type repo struct {
	q    querier
	inTx bool
}

// ========== Domain Repository ==========

func (r *repo) CreateDomain(ctx context.Context, d *domain.MailDomain) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO domains (id, name, created_at) VALUES ($1, $2, $3)`,
		d.ID, d.Name, d.CreatedAt)
	return mapError(err)
}

func (r *repo) GetDomainByID(ctx context.Context, id string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	err := r.q.QueryRow(ctx,
		`SELECT id, name, created_at FROM domains WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (r *repo) GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	err := r.q.QueryRow(ctx,
		`SELECT id, name, created_at FROM domains WHERE name = $1`, name).
		Scan(&d.ID, &d.Name, &d.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (r *repo) ListDomains(ctx context.Context) ([]domain.MailDomain, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, created_at FROM domains ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var domains []domain.MailDomain
	for rows.Next() {
		var d domain.MailDomain
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan domain row: %w", err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return domains, nil
}

// ========== User Repository ==========

// CreateUser 先占用身份再写入用户，调用方需处于事务中
func (r *repo) CreateUser(ctx context.Context, user *domain.User) error {
	if !r.inTx {
		return fmt.Errorf("create user outside transaction")
	}
	if _, err := r.q.Exec(ctx,
		`INSERT INTO identities (domain_id, local_part, kind) VALUES ($1, $2, 'user')`,
		user.DomainID, user.Name); err != nil {
		return mapError(err)
	}
	_, err := r.q.Exec(ctx,
		`INSERT INTO users (id, domain_id, name, password_hash, is_admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.DomainID, user.Name, user.PasswordHash, user.IsAdmin, user.CreatedAt, user.UpdatedAt)
	return mapError(err)
}

const userColumns = `u.id, u.domain_id, u.name, u.password_hash, u.is_admin, u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.DomainID, &u.Name, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (r *repo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id))
}

func (r *repo) GetUserByAddress(ctx context.Context, localPart, domainName string) (*domain.User, error) {
	return scanUser(r.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u JOIN domains d ON d.id = u.domain_id
		 WHERE d.name = $1 AND u.name = $2`, domainName, localPart))
}

func (r *repo) UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, updatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
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
	if _, err := r.q.Exec(ctx,
		`INSERT INTO identities (domain_id, local_part, kind) VALUES ($1, $2, 'alias')`,
		alias.DomainID, alias.Source); err != nil {
		return mapError(err)
	}
	_, err := r.q.Exec(ctx,
		`INSERT INTO aliases (id, domain_id, source, destination, created_at) VALUES ($1, $2, $3, $4, $5)`,
		alias.ID, alias.DomainID, alias.Source, alias.Destination, alias.CreatedAt)
	return mapError(err)
}

func (r *repo) IdentityExists(ctx context.Context, domainID, localPart string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM identities WHERE domain_id = $1 AND local_part = $2)`,
		domainID, localPart).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// ========== Invite Repository ==========

func (r *repo) CreateInvite(ctx context.Context, invite *domain.Invite) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO invites (id, code, domain_id, issued_by, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		invite.ID, invite.Code, invite.DomainID, invite.IssuedBy, string(invite.Status), invite.CreatedAt)
	return mapError(err)
}

// FindRedeemableInvite 锁定未兑换的邀请码行，并发兑换在此处排队
func (r *repo) FindRedeemableInvite(ctx context.Context, code, domainID string) (*domain.Invite, error) {
	var (
		inv    domain.Invite
		status string
	)
	err := r.q.QueryRow(ctx,
		`SELECT id, code, domain_id, issued_by, status, created_at FROM invites
		 WHERE code = $1 AND domain_id = $2 AND status = 'unredeemed'
		 FOR UPDATE`, code, domainID).
		Scan(&inv.ID, &inv.Code, &inv.DomainID, &inv.IssuedBy, &status, &inv.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	inv.Status = domain.InviteStatus(status)
	return &inv, nil
}

// RedeemInvite 带状态条件的更新，邀请码已被兑换时返回 ErrNotFound
func (r *repo) RedeemInvite(ctx context.Context, inviteID, userID string, consumedAt time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE invites SET status = 'redeemed', redeemed_by = $2, consumed_at = $3
		 WHERE id = $1 AND status = 'unredeemed'`,
		inviteID, userID, consumedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ========== Session Repository ==========

// ReplaceUserSession 单条 upsert 语句替换用户会话，user_id 唯一约束保证至多一个会话
func (s *Store) ReplaceUserSession(ctx context.Context, session *domain.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, ip_address, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		   id = EXCLUDED.id,
		   token_hash = EXCLUDED.token_hash,
		   ip_address = EXCLUDED.ip_address,
		   created_at = EXCLUDED.created_at`,
		session.ID, session.UserID, session.TokenHash, session.IPAddress, session.CreatedAt)
	return mapError(err)
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var sess domain.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, token_hash, ip_address, created_at FROM sessions WHERE token_hash = $1`,
		tokenHash).
		Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.IPAddress, &sess.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &sess, nil
}

func (s *Store) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return mapError(err)
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return mapError(err)
}

func (s *Store) DeleteSessionsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}
