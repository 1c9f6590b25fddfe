// Package sql 基于 database/sql 与 GORM 的存储实现（支持 MySQL 5.7+ 和 PostgreSQL）。
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // PostgreSQL driver
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

// Store SQL 数据库存储实现
type Store struct {
	*repo
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

var _ storage.Store = (*Store)(nil)

// identity 用户与别名共享的身份行，(domain_id, local_part) 为主键
type identity struct {
	DomainID  string `gorm:"primaryKey;type:varchar(36)"`
	LocalPart string `gorm:"primaryKey;type:varchar(100)"`
	Kind      string `gorm:"type:varchar(8);not null"`
}

func (identity) TableName() string {
	return "identities"
}

// NewStore 创建SQL数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
	autoMigrate bool,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	if driverName == "mysql" {
		normalized, err := normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, err
		}
		dsn = normalized
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := newStoreFromDB(driverName, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	if autoMigrate {
		if err := store.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

// newStoreFromDB 在已打开的连接上初始化 GORM
func newStoreFromDB(driverName string, db *sql.DB) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		SkipDefaultTransaction: true,
	}

	var dialector gorm.Dialector
	switch driverName {
	case "mysql":
		dialector = gormmysql.New(gormmysql.Config{Conn: db})
	case "postgres":
		dialector = gormpostgres.New(gormpostgres.Config{Conn: db})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driverName)
	}

	gormDB, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	return &Store{
		repo:       &repo{db: gormDB},
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}, nil
}

// normalizeMySQLDSN 强制 parseTime 与 UTC，时间列才能扫描进 time.Time
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Migrate 执行数据库迁移（使用GORM AutoMigrate）
func (s *Store) Migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.MailDomain{},
		&identity{},
		&domain.User{},
		&domain.Alias{},
		&domain.Invite{},
		&domain.Session{},
	)
}

// DriverName 返回底层驱动名称
func (s *Store) DriverName() string {
	return s.driverName
}

// WithTx 在单个事务中执行 fn
//
// 邀请码通过 SELECT ... FOR UPDATE 串行化，身份冲突由 identities 主键拦截。
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Repositories) error) error {
	tx := s.gormDB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", mapError(tx.Error))
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := fn(&repo{db: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit().Error; err != nil {
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

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}
