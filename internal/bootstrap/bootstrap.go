// Package bootstrap 按配置组装存储与服务，供 server 与 meructl 共用。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"meru/backend/internal/auth"
	"meru/backend/internal/cache"
	"meru/backend/internal/config"
	"meru/backend/internal/monitoring"
	"meru/backend/internal/notify"
	"meru/backend/internal/service"
	"meru/backend/internal/storage"
	"meru/backend/internal/storage/memory"
	"meru/backend/internal/storage/postgres"
	redisstore "meru/backend/internal/storage/redis"
	sqlstore "meru/backend/internal/storage/sql"
)

// Stores 已打开的存储
type Stores struct {
	Store    storage.Store
	Sessions storage.SessionRepository
	Redis    *redisstore.Client // 会话不使用 Redis 时为 nil
	Backend  string             // 实际使用的实现，用于日志
}

// Close 依次关闭 Redis 与主存储
func (s *Stores) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	return errors.Join(errs...)
}

// OpenStores 按配置打开主存储与会话存储
func OpenStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Stores, error) {
	store, backend, err := openStore(ctx, &cfg.Database, log)
	if err != nil {
		return nil, err
	}

	stores := &Stores{Store: store, Sessions: store, Backend: backend}
	if cfg.Session.Backend == "redis" {
		client, err := redisstore.New(&cfg.Redis, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		stores.Redis = client
		stores.Sessions = redisstore.NewSessionStore(client.Client(), cfg.Session.TTL)
	}

	log.Info("storage initialized",
		zap.String("backend", backend),
		zap.String("session_backend", cfg.Session.Backend),
	)
	return stores, nil
}

func openStore(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (storage.Store, string, error) {
	switch {
	case cfg.Type == "memory":
		log.Warn("using memory storage, data is lost on restart")
		return memory.NewStore(), "memory", nil

	case cfg.Type == "postgres" && !cfg.UseORM:
		if cfg.AutoMigrate {
			if err := MigratePostgres(cfg.DSN, log); err != nil {
				return nil, "", err
			}
		}
		pool, err := postgres.Connect(ctx, cfg, log)
		if err != nil {
			return nil, "", err
		}
		return postgres.NewStore(pool), "postgres", nil

	case cfg.Type == "postgres" || cfg.Type == "mysql":
		lifetime := cfg.ConnMaxLifetime
		if lifetime <= 0 {
			lifetime = 5 * time.Minute
		}
		store, err := sqlstore.NewStore(cfg.Type, cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, lifetime, cfg.AutoMigrate)
		if err != nil {
			return nil, "", err
		}
		return store, cfg.Type + "+gorm", nil

	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// MigratePostgres 执行嵌入的 PostgreSQL 迁移
func MigratePostgres(dsn string, log *zap.Logger) error {
	migrator, err := postgres.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			log.Warn("failed to close migrator", zap.Error(err))
		}
	}()

	if err := migrator.Up(); err != nil {
		return err
	}
	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	log.Info("database migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// NewNotifier 未配置 SMTP 时只记录日志
func NewNotifier(cfg config.SMTPConfig, log *zap.Logger) notify.InviteNotifier {
	if cfg.Addr == "" {
		log.Warn("SMTP not configured, invite notices are only logged")
		return notify.NewLogNotifier(log)
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Addr:      cfg.Addr,
		Username:  cfg.Username,
		Password:  cfg.Password,
		From:      cfg.From,
		Subject:   cfg.Subject,
		Signature: cfg.Signature,
		HeloName:  cfg.HeloName,
		Timeout:   cfg.Timeout,
		StartTLS:  cfg.StartTLS,
	})
}

// Services 组装完成的业务服务
type Services struct {
	Codec    *auth.Codec
	Sessions *auth.SessionManager
	Domains  *service.DomainService
	Invites  *service.InviteService
	Accounts *service.AccountService
	Aliases  *service.AliasService

	domainCache *cache.LocalCache
}

// NewServices 按配置组装服务，metrics 可以为 nil
func NewServices(cfg *config.Config, stores *Stores, notifier notify.InviteNotifier, log *zap.Logger, metrics *monitoring.Metrics) (*Services, error) {
	codec, err := auth.NewCodec(cfg.Auth.PasswordAlgorithm, cfg.Auth.BcryptCost)
	if err != nil {
		return nil, err
	}

	sessions := auth.NewSessionManager(stores.Store, stores.Sessions, codec,
		auth.WithTTL(cfg.Session.TTL),
		auth.WithLogger(log.Named("session")),
		auth.WithMetrics(metrics),
	)

	domainCache := cache.NewLocalCache(1000, 5*time.Minute)
	domains := service.NewDomainService(stores.Store, domainCache)
	invites := service.NewInviteService(stores.Store, notifier, service.InviteLinks{
		SignupURL: cfg.Invite.SignupURL,
		DeleteURL: cfg.Invite.DeleteURL,
	}, log.Named("invite"), metrics)
	accounts := service.NewAccountService(stores.Store, domains, invites, codec, sessions, log.Named("account"), metrics)
	aliases := service.NewAliasService(stores.Store, domains, log.Named("alias"))

	return &Services{
		Codec:       codec,
		Sessions:    sessions,
		Domains:     domains,
		Invites:     invites,
		Accounts:    accounts,
		Aliases:     aliases,
		domainCache: domainCache,
	}, nil
}

// Close 停止服务持有的后台任务
func (s *Services) Close() {
	s.domainCache.Close()
}
