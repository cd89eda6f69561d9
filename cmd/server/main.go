package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"dhastore/backend/internal/cache"
	"dhastore/backend/internal/config"
	"dhastore/backend/internal/events"
	"dhastore/backend/internal/httpapi"
	"dhastore/backend/internal/logger"
	"dhastore/backend/internal/service"
	"dhastore/backend/internal/store"
	"dhastore/backend/internal/store/memory"
	pgstore "dhastore/backend/internal/store/postgres"
	sqlitestore "dhastore/backend/internal/store/sqlite"
)

func main() {
	// Optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	loc, _ := cfg.Location()
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)

	primary, closePrimary, err := openPrimary(ctx, cfg)
	if err != nil {
		log.Fatal("primary store unavailable; refusing to start", zap.String("store", cfg.PrimaryStore), zap.Error(err))
	}
	if closePrimary != nil {
		closers = append(closers, closePrimary)
	}
	log.Info("primary store", zap.String("medium", primary.Name()))

	var secondary store.Medium
	switch backup, err := openBackup(ctx, cfg); {
	case err != nil:
		log.Warn("redis unavailable, running without backup medium", zap.Error(err))
	case backup == nil:
		log.Info("backup store disabled")
	default:
		secondary = backup
		closers = append(closers, backup.Close)
		log.Info("backup store", zap.String("medium", backup.Name()), zap.Duration("ttl", cfg.BackupTTL()))
	}

	var publisher events.Publisher = events.Noop{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.KafkaTopic, log)
		log.Info("event publisher", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaTopic))
	}

	docs := store.NewReplicated(primary, secondary, log, store.WithKeyPrefix(cfg.KeyPrefix))
	svc := service.New(docs, log,
		service.WithLocation(loc),
		service.WithUndoLimit(cfg.UndoLimit),
		service.WithRecentLimit(cfg.RecentLimit),
		service.WithPublisher(publisher),
	)
	if err := svc.Load(ctx); err != nil {
		log.Warn("starting with state not in sync with the store", zap.Error(err))
	}

	api := httpapi.New(svc, log, cfg.AllowedOrigin)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("dhastore backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.Warn("final flush incomplete", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateConfig(cfg config.Config) error {
	switch cfg.PrimaryStore {
	case config.StoreMemory:
	case config.StoreSQLite:
		if cfg.SQLitePath == "" {
			return errors.New("SQLITE_PATH must be set when PRIMARY_STORE=sqlite")
		}
	case config.StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set when PRIMARY_STORE=postgres")
		}
	default:
		return fmt.Errorf("PRIMARY_STORE must be one of memory, sqlite, postgres; got %q", cfg.PrimaryStore)
	}
	if cfg.KeyPrefix == "" {
		return errors.New("KEY_PREFIX must not be empty")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}

// openPrimary returns the configured primary medium and its closer, if any.
func openPrimary(ctx context.Context, cfg config.Config) (store.Medium, func() error, error) {
	switch cfg.PrimaryStore {
	case config.StorePostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case config.StoreSQLite:
		lite, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return lite, lite.Close, nil
	case config.StoreMemory:
		return memory.New("memory"), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown primary store %q", cfg.PrimaryStore)
	}
}

// openBackup connects the optional Redis backup medium. It returns nil when
// no address is configured.
func openBackup(ctx context.Context, cfg config.Config) (*cache.RedisBackup, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	backup := cache.NewRedisBackup(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.BackupTTL())
	if err := backup.Ping(ctx); err != nil {
		_ = backup.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return backup, nil
}
