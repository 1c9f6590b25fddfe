package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		mock.Close()
	})
	return NewStore(mock), mock
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraint}
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStore_Domains(t *testing.T) {
	ctx := context.Background()

	t.Run("创建域名", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO domains`).
			WithArgs("d1", "example.com", testTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.CreateDomain(ctx, &domain.MailDomain{ID: "d1", Name: "example.com", CreatedAt: testTime}))
	})

	t.Run("重复域名", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO domains`).
			WithArgs("d1", "example.com", testTime).
			WillReturnError(uniqueViolation("domains_name_key"))

		err := s.CreateDomain(ctx, &domain.MailDomain{ID: "d1", Name: "example.com", CreatedAt: testTime})
		assert.ErrorIs(t, err, storage.ErrDuplicate)
	})

	t.Run("按名称查询", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT id, name, created_at FROM domains WHERE name`).
			WithArgs("example.com").
			WillReturnRows(pgxmock.NewRows([]string{"id", "name", "created_at"}).AddRow("d1", "example.com", testTime))

		d, err := s.GetDomainByName(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, "d1", d.ID)
	})

	t.Run("域名不存在", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM domains WHERE id`).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows([]string{"id", "name", "created_at"}))

		_, err := s.GetDomainByID(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("列出域名", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM domains ORDER BY name`).
			WillReturnRows(pgxmock.NewRows([]string{"id", "name", "created_at"}).
				AddRow("d1", "a.example", testTime).
				AddRow("d2", "b.example", testTime))

		domains, err := s.ListDomains(ctx)
		require.NoError(t, err)
		assert.Len(t, domains, 2)
	})
}

func TestStore_CreateUser(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "u1", DomainID: "d1", Name: "alice", PasswordHash: "$2a$hash", CreatedAt: testTime, UpdatedAt: testTime}

	t.Run("先占用身份再写入用户", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO identities`).
			WithArgs("d1", "alice").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs("u1", "d1", "alice", "$2a$hash", false, testTime, testTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, s.CreateUser(ctx, user))
	})

	t.Run("身份冲突时回滚", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO identities`).
			WithArgs("d1", "alice").
			WillReturnError(uniqueViolation("identities_pkey"))
		mock.ExpectRollback()

		err := s.CreateUser(ctx, user)
		assert.ErrorIs(t, err, storage.ErrDuplicate)
	})

	t.Run("域名不存在", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO identities`).
			WithArgs("d1", "alice").
			WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})
		mock.ExpectRollback()

		assert.ErrorIs(t, s.CreateUser(ctx, user), storage.ErrNotFound)
	})
}

func TestStore_WithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("兑换邀请码并创建用户", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("d1", "alice").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(`FOR UPDATE`).
			WithArgs("abc123", "d1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "code", "domain_id", "issued_by", "status", "created_at"}).
				AddRow("i1", "abc123", "d1", "issuer", "unredeemed", testTime))
		mock.ExpectExec(`INSERT INTO identities`).
			WithArgs("d1", "alice").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs("u1", "d1", "alice", "hash", false, testTime, testTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`UPDATE invites SET status = 'redeemed'`).
			WithArgs("i1", "u1", testTime).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := s.WithTx(ctx, func(tx storage.Repositories) error {
			taken, err := tx.IdentityExists(ctx, "d1", "alice")
			if err != nil || taken {
				return errors.New("unexpected identity state")
			}
			invite, err := tx.FindRedeemableInvite(ctx, "abc123", "d1")
			if err != nil {
				return err
			}
			if invite.Status != domain.InviteUnredeemed {
				return errors.New("unexpected status")
			}
			if err := tx.CreateUser(ctx, &domain.User{ID: "u1", DomainID: "d1", Name: "alice", PasswordHash: "hash", CreatedAt: testTime, UpdatedAt: testTime}); err != nil {
				return err
			}
			return tx.RedeemInvite(ctx, invite.ID, "u1", testTime)
		})
		require.NoError(t, err)
	})

	t.Run("邀请码已被并发兑换", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE invites`).
			WithArgs("i1", "u1", testTime).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(tx storage.Repositories) error {
			return tx.RedeemInvite(ctx, "i1", "u1", testTime)
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("未找到可兑换邀请码", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).
			WithArgs("abc123", "d1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "code", "domain_id", "issued_by", "status", "created_at"}))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(tx storage.Repositories) error {
			_, err := tx.FindRedeemableInvite(ctx, "abc123", "d1")
			return err
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("提交时序列化失败", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: pgerrcode.SerializationFailure})

		err := s.WithTx(ctx, func(tx storage.Repositories) error { return nil })
		assert.ErrorIs(t, err, storage.ErrConflict)
	})

	t.Run("开启事务失败", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		err := s.WithTx(ctx, func(tx storage.Repositories) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	columns := []string{"id", "domain_id", "name", "password_hash", "is_admin", "created_at", "updated_at"}

	t.Run("按地址查询", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`JOIN domains d ON d.id = u.domain_id`).
			WithArgs("example.com", "alice").
			WillReturnRows(pgxmock.NewRows(columns).AddRow("u1", "d1", "alice", "hash", true, testTime, testTime))

		u, err := s.GetUserByAddress(ctx, "alice", "example.com")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
		assert.True(t, u.IsAdmin)
	})

	t.Run("更新不存在用户的密码", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE users SET password_hash`).
			WithArgs("ghost", "hash", testTime).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, s.UpdatePassword(ctx, "ghost", "hash", testTime), storage.ErrNotFound)
	})
}

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()

	t.Run("按用户 upsert 会话", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`ON CONFLICT \(user_id\) DO UPDATE`).
			WithArgs("s1", "u1", "hash", "10.0.0.1", testTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.ReplaceUserSession(ctx, &domain.Session{ID: "s1", UserID: "u1", TokenHash: "hash", IPAddress: "10.0.0.1", CreatedAt: testTime}))
	})

	t.Run("按令牌哈希查询", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM sessions WHERE token_hash`).
			WithArgs("hash").
			WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "token_hash", "ip_address", "created_at"}).
				AddRow("s1", "u1", "hash", "10.0.0.1", testTime))

		sess, err := s.GetSessionByTokenHash(ctx, "hash")
		require.NoError(t, err)
		assert.Equal(t, "u1", sess.UserID)
		assert.Equal(t, testTime, sess.CreatedAt)
	})

	t.Run("清理过期会话", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE created_at`).
			WithArgs(testTime).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))

		n, err := s.DeleteSessionsCreatedBefore(ctx, testTime)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("删除不存在的会话不报错", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE token_hash`).
			WithArgs("missing").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		assert.NoError(t, s.DeleteSessionByTokenHash(ctx, "missing"))
	})
}

func TestStore_Health(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectPing()
	assert.NoError(t, s.Health(context.Background()))
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil))
	assert.ErrorIs(t, mapError(uniqueViolation("x")), storage.ErrDuplicate)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}), storage.ErrConflict)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: pgerrcode.SerializationFailure}), storage.ErrConflict)

	plain := errors.New("boom")
	assert.Equal(t, plain, mapError(plain))
}
