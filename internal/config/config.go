// Package config loads terminal settings from the environment. Every value
// has a default suited to a single-register development setup; production
// deployments override via the environment or a .env file loaded by main.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
)

type Config struct {
	Env  string
	Port int

	InventoryBaseURL string
	SaleBaseURL      string
	HTTPTimeout      time.Duration

	QueuePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// DrainInterval is how often the cron scheduler walks the offline queue.
	DrainInterval   time.Duration
	SyncMaxAttempts int
	SyncBackoffBase time.Duration
	SyncBackoffCap  time.Duration

	// NodeID seeds the snowflake generator; give each register a distinct
	// id so locally generated ids never collide across devices.
	NodeID int64

	CurrencySymbol string
	CurrencySuffix bool
}

func Load() (Config, error) {
	cfg := Config{
		Env:              getString("TERMINAL_ENV", "development"),
		Port:             getInt("TERMINAL_PORT", 8090),
		InventoryBaseURL: getString("INVENTORY_BASE_URL", "http://localhost:8080"),
		SaleBaseURL:      getString("SALE_BASE_URL", "http://localhost:8081"),
		HTTPTimeout:      getDuration("HTTP_TIMEOUT_SECONDS", 10*time.Second),
		QueuePath:        getString("QUEUE_PATH", "terminal.db"),
		RedisAddr:        getString("REDIS_ADDR", ""),
		RedisPassword:    getString("REDIS_PASSWORD", ""),
		RedisDB:          getInt("REDIS_DB", 0),
		DrainInterval:    getDuration("SYNC_DRAIN_INTERVAL_SECONDS", 30*time.Second),
		SyncMaxAttempts:  getInt("SYNC_MAX_ATTEMPTS", 5),
		SyncBackoffBase:  getDuration("SYNC_BACKOFF_BASE_SECONDS", 5*time.Second),
		SyncBackoffCap:   getDuration("SYNC_BACKOFF_CAP_SECONDS", 5*time.Minute),
		NodeID:           cast.ToInt64(os.Getenv("TERMINAL_NODE_ID")),
		CurrencySymbol:   getString("CURRENCY_SYMBOL", "$"),
		CurrencySuffix:   cast.ToBool(os.Getenv("CURRENCY_SYMBOL_SUFFIX")),
	}
	if cfg.NodeID == 0 {
		cfg.NodeID = 1
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid TERMINAL_PORT %d", cfg.Port)
	}
	if cfg.NodeID < 0 || cfg.NodeID > 1023 {
		return Config{}, fmt.Errorf("TERMINAL_NODE_ID %d out of snowflake range 0-1023", cfg.NodeID)
	}
	if cfg.SyncBackoffBase > cfg.SyncBackoffCap {
		return Config{}, fmt.Errorf("SYNC_BACKOFF_BASE_SECONDS exceeds SYNC_BACKOFF_CAP_SECONDS")
	}
	return cfg, nil
}

func (c Config) Production() bool {
	return c.Env == "production"
}

func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		return cast.ToInt(v)
	}
	return fallback
}

// getDuration reads a whole number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		return time.Duration(cast.ToInt64(v)) * time.Second
	}
	return fallback
}
