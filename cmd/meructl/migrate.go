package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meru/backend/internal/bootstrap"
	"meru/backend/internal/config"
	"meru/backend/internal/logger"
	"meru/backend/internal/storage/postgres"
	sqlstore "meru/backend/internal/storage/sql"
)

// NewMigrateCmd 创建 migrate 子命令
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "管理数据库结构迁移",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "执行全部未应用的迁移",
		Args:  cobra.NoArgs,
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "回滚全部迁移（会删除所有表）",
		Args:  cobra.NoArgs,
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示当前迁移版本",
		Args:  cobra.NoArgs,
		RunE:  runMigrateVersion,
	})

	return cmd
}

func loadMigrationConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Type == "memory" {
		return nil, fmt.Errorf("memory storage has no schema to migrate")
	}
	return cfg, nil
}

// usesMigrator golang-migrate 只管理 pgx 实现的 PostgreSQL
func usesMigrator(cfg *config.DatabaseConfig) bool {
	return cfg.Type == "postgres" && !cfg.UseORM
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadMigrationConfig()
	if err != nil {
		return err
	}

	if !usesMigrator(&cfg.Database) {
		cmd.Println("Running GORM auto-migration...")
		store, err := sqlstore.NewStore(cfg.Database.Type, cfg.Database.DSN, 2, 1, cfg.Database.ConnMaxLifetime, false)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return err
		}
		cmd.Println("Schema is up to date")
		return nil
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cmd.Println("Running migrations...")
	if err := bootstrap.MigratePostgres(cfg.Database.DSN, log); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	cfg, err := loadMigrationConfig()
	if err != nil {
		return err
	}
	if !usesMigrator(&cfg.Database) {
		return fmt.Errorf("rollback is only supported for postgres without ORM")
	}

	migrator, err := postgres.NewMigrator(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()

	cmd.Println("Rolling back migrations...")
	if err := migrator.Down(); err != nil {
		return err
	}
	cmd.Println("Rollback completed")
	return nil
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	cfg, err := loadMigrationConfig()
	if err != nil {
		return err
	}
	if !usesMigrator(&cfg.Database) {
		return fmt.Errorf("schema versions are only tracked for postgres without ORM")
	}

	migrator, err := postgres.NewMigrator(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("version %d (dirty)\n", version)
		return nil
	}
	cmd.Printf("version %d\n", version)
	return nil
}
