package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"meru/backend/internal/bootstrap"
	"meru/backend/internal/config"
	"meru/backend/internal/logger"
)

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "meructl",
		Short:         "meru 账户服务运维工具",
		Long:          `meructl 管理数据库迁移、邮件域名、别名与管理员账户，配置与 server 共用 MERU_* 环境变量。`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewDomainCmd())
	cmd.AddCommand(NewAliasCmd())
	cmd.AddCommand(NewAdminCmd())

	return cmd
}

// environment 命令执行所需的配置、日志与服务
type environment struct {
	cfg      *config.Config
	log      *zap.Logger
	stores   *bootstrap.Stores
	services *bootstrap.Services
}

// openEnvironment 加载配置并组装服务，调用方负责 close
func openEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	if cfg.Database.Type == "memory" {
		log.Warn("memory storage selected, changes will not persist after meructl exits")
	}

	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	services, err := bootstrap.NewServices(cfg, stores, bootstrap.NewNotifier(cfg.SMTP, log), log, nil)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	return &environment{cfg: cfg, log: log, stores: stores, services: services}, nil
}

func (e *environment) close() {
	e.services.Close()
	if err := e.stores.Close(); err != nil {
		e.log.Warn("storage close warning", zap.Error(err))
	}
	_ = e.log.Sync()
}
