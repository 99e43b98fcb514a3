package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/cache"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/config"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/gauge"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/httpapi"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/logger"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/meter"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/reconcile"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/service"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/shift"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store/memory"
	pgstore "github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	zl := logger.New(cfg.Logger())
	defer func() { _ = zl.Sync() }()

	machine, err := buildMachine(cfg)
	if err != nil {
		zl.Fatal("invalid station configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			zl.Fatal("apply schema", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		zl.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		zl.Info("repository: in-memory")
	}

	var reportCache cache.ReportCache = cache.NewMemoryReportCache()
	var locker cache.Locker = cache.NewLocalLocker()
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisReportCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			zl.Warn("redis unavailable, using in-process cache and locker", zap.Error(err))
			_ = client.Close()
		} else {
			reportCache = redisCache
			locker = cache.NewRedisLocker(client)
			closers = append(closers, client.Close)
			zl.Info("cache: redis")
		}
	} else {
		zl.Info("cache: in-process")
	}

	svc := service.New(repo, machine, cfg.StationID,
		service.WithReportCache(reportCache, cfg.ReportCacheTTL),
		service.WithLocker(locker, cfg.OpenLockTTL),
		service.WithLogger(zl.Named("service")),
	)
	auth, err := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if err != nil {
		zl.Fatal("auth manager", zap.Error(err))
	}
	if cfg.BootstrapAdminPassword != "" {
		created, err := auth.EnsureAdmin(ctx, cfg.BootstrapAdminPassword)
		if err != nil {
			zl.Fatal("bootstrap admin", zap.Error(err))
		}
		if created {
			zl.Info("bootstrap admin account created")
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, zl.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zl.Info("station backend listening", zap.String("addr", cfg.Address()), zap.String("station_id", cfg.StationID))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zl.Error("close error", zap.Error(err))
		}
	}

	zl.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BootstrapAdminPassword != "" && len(cfg.BootstrapAdminPassword) < 8 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}

// buildMachine wires the meter, gauge and reconciliation services into the
// shift state machine.
func buildMachine(cfg config.Config) (*shift.Machine, error) {
	meters, err := meter.New(cfg.Meter())
	if err != nil {
		return nil, fmt.Errorf("meter: %w", err)
	}
	gauges, err := gauge.New(cfg.Gauge())
	if err != nil {
		return nil, fmt.Errorf("gauge: %w", err)
	}
	recon, err := reconcile.New(cfg.Reconcile())
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	return shift.New(cfg.Shift(), meters, gauges, recon)
}
