package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"meru/backend/internal/auth"
	"meru/backend/internal/bootstrap"
	"meru/backend/internal/config"
	"meru/backend/internal/health"
	"meru/backend/internal/logger"
	"meru/backend/internal/middleware"
	"meru/backend/internal/monitoring"
	httptransport "meru/backend/internal/transport/http"
)

// main 启动账户注册与会话认证的 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting meru server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("database_type", cfg.Database.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	metrics := monitoring.NewMetrics()

	healthChecker := health.NewHealthChecker(log)
	healthChecker.AddDependency("database", health.PingerFunc(stores.Store.Health))
	if stores.Redis != nil {
		healthChecker.AddDependency("redis", stores.Redis)
	}

	notifier := bootstrap.NewNotifier(cfg.SMTP, log.Named("notify"))
	services, err := bootstrap.NewServices(cfg, stores, notifier, log, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer services.Close()

	var loginLimiter *middleware.LoginRateLimiter
	if cfg.RateLimit.Enabled {
		loginLimiter = middleware.NewLoginRateLimiter(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst, metrics, log)
		defer loginLimiter.Close()
	}

	router, err := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		AccountService: services.Accounts,
		InviteService:  services.Invites,
		DomainService:  services.Domains,
		AliasService:   services.Aliases,
		Sessions:       services.Sessions,
		LoginLimiter:   loginLimiter,
		Health:         healthChecker,
		Metrics:        metrics,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Session.SweepInterval > 0 {
		group.Go(func() error {
			sweepSessions(groupCtx, services.Sessions, cfg.Session.SweepInterval, log)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// sweepSessions 定期清理过期会话，直到 ctx 结束
func sweepSessions(ctx context.Context, sessions *auth.SessionManager, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("starting expired session sweeper", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("session sweeper stopped")
			return
		case <-ticker.C:
			count, err := sessions.ExpireStale(ctx)
			if err != nil {
				log.Error("failed to sweep expired sessions", zap.Error(err))
			} else if count > 0 {
				log.Info("expired sessions swept", zap.Int64("count", count))
			}
		}
	}
}
