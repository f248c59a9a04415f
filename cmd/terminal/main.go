package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/bwmarrin/snowflake"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"larispos/terminal/internal/cache"
	"larispos/terminal/internal/client"
	"larispos/terminal/internal/config"
	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/httpapi"
	"larispos/terminal/internal/ledger"
	"larispos/terminal/internal/store/bolt"
	"larispos/terminal/internal/syncer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		basicLogger().Fatalf("invalid configuration: %v", err)
	}

	logger := newLogger(cfg.Production())
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)

	queue, err := bolt.Open(cfg.QueuePath)
	if err != nil {
		sugar.Fatalw("offline queue unavailable", "path", cfg.QueuePath, "error", err)
	}
	closers = append(closers, queue.Close)
	sugar.Infow("offline queue open", "path", cfg.QueuePath)

	productCache := cache.ProductCache(cache.NewMemoryProductCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisProductCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			sugar.Warnw("redis unavailable, using in-memory product cache", "error", err)
		} else {
			productCache = redisCache
			closers = append(closers, redisCache.Close)
			sugar.Info("product cache: redis")
		}
	} else {
		sugar.Info("product cache: in-memory")
	}

	inventory := client.New(cfg.InventoryBaseURL, cfg.HTTPTimeout)
	sales := client.New(cfg.SaleBaseURL, cfg.HTTPTimeout)

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		sugar.Fatalw("snowflake node", "node_id", cfg.NodeID, "error", err)
	}

	bus := EventBus.New()
	engine := syncer.New(queue, sales, productCache, bus, node, syncer.Config{
		MaxAttempts: cfg.SyncMaxAttempts,
		BackoffBase: cfg.SyncBackoffBase,
		BackoffCap:  cfg.SyncBackoffCap,
	})

	format := domain.Formatting{CurrencySymbol: cfg.CurrencySymbol, SymbolSuffix: cfg.CurrencySuffix}
	cartLedger := ledger.New(inventory, sales, engine, productCache, format)
	api := httpapi.New(cartLedger, engine, inventory, productCache, format)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+cfg.DrainInterval.String(), func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainInterval)
		defer drainCancel()
		if err := engine.Drain(drainCtx); err != nil && !errors.Is(err, syncer.ErrDrainInProgress) {
			sugar.Warnw("scheduled drain failed", "error", err)
		}
	}); err != nil {
		sugar.Fatalw("schedule drain", "error", err)
	}
	scheduler.Start()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		sugar.Infow("terminal listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server error", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("shutdown error", "error", err)
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			sugar.Warnw("close error", "error", err)
		}
	}
	sugar.Info("terminal stopped")
}

func newLogger(production bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if production {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		basicLogger().Fatalf("logger: %v", err)
	}
	return logger
}

func basicLogger() *zap.SugaredLogger {
	logger, _ := zap.NewDevelopment()
	return logger.Sugar()
}
