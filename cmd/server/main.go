package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"carte-api/internal/auth"
	"carte-api/internal/config"
	apphttp "carte-api/internal/http"
	"carte-api/internal/metrics"
	"carte-api/internal/repository"
	"carte-api/internal/repository/postgres"
	"carte-api/internal/repository/sqlite"
	"carte-api/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, accounts, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := accounts.Init(ctx); err != nil {
		logger.Fatalf("init account repository: %v", err)
	}

	var m *metrics.Metrics
	opts := []service.Option{service.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		m = metrics.New()
		opts = append(opts, service.WithEventRecorder(m))
	}

	tokens := auth.NewJWTIssuer([]byte(cfg.Auth.JWTSecret), time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
	guard := service.NewAuthGuard(service.LockoutPolicy{
		MaxAttempts:  cfg.Login.MaxAttempts,
		LockDuration: time.Duration(cfg.Login.LockDurationMinutes) * time.Minute,
	}, nil)
	userService := service.NewUserService(accounts, auth.NewBcryptVerifier(cfg.Auth.BcryptCost), tokens, guard, opts...)

	if err := userService.EnsureAdmin(ctx, service.AdminSeed{
		Username: cfg.Admin.Username,
		Email:    cfg.Admin.Email,
		Password: cfg.Admin.Password,
	}); err != nil {
		logger.Fatalf("seed admin: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(userService, tokens, logger, m).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":          cfg.Server.Addr,
			"driver":        cfg.Database.Driver,
			"max_attempts":  guard.Policy().MaxAttempts,
			"lock_duration": guard.Policy().LockDuration.String(),
		}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func openStore(ctx context.Context, cfg config.Config) (*sql.DB, repository.AccountRepository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return db, postgres.NewAccountRepository(db), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, sqlite.NewAccountRepository(db), nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
