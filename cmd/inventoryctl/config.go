package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/inventory-engine/pkg/client"
	"github.com/Sternrassler/inventory-engine/pkg/logging"
	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

// Config is the process configuration read from the environment.
type Config struct {
	CatalogBaseURL string  `env:"CATALOG_BASE_URL,required,notEmpty"`
	RedisAddr      string  `env:"REDIS_ADDR"`
	Port           int     `env:"PORT" envDefault:"8080"`
	UserAgent      string  `env:"USER_AGENT" envDefault:"inventoryctl/0.1.0"`
	LogLevel       string  `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty      bool    `env:"LOG_PRETTY" envDefault:"false"`
	PageSize       int     `env:"PAGE_SIZE" envDefault:"10"`
	ServerPageSize int     `env:"SERVER_PAGE_SIZE" envDefault:"50"`
	RateLimit      float64 `env:"RATE_LIMIT" envDefault:"10"`
	MaxUsers       int     `env:"MAX_USERS" envDefault:"1000"`
}

// ParseEnv parses environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	if cfg.PageSize < 0 || cfg.ServerPageSize < 0 {
		return Config{}, fmt.Errorf("page sizes must be >= 0")
	}
	if cfg.MaxUsers <= 0 {
		return Config{}, fmt.Errorf("MAX_USERS must be positive: %d", cfg.MaxUsers)
	}
	return cfg, nil
}

// openRedis connects to REDIS_ADDR. An empty address runs without Redis.
func openRedis(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// newCatalogClient builds the catalog client and returns a cleanup func for
// the client and its Redis connection.
func newCatalogClient(ctx context.Context, cfg Config) (*client.Client, func(), error) {
	rdb, err := openRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}

	ccfg := client.DefaultConfig(cfg.CatalogBaseURL, rdb, cfg.UserAgent)
	ccfg.RateLimit = cfg.RateLimit

	c, err := client.New(ccfg)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, fmt.Errorf("create catalog client: %w", err)
	}

	cleanup := func() {
		c.Close()
		if rdb != nil {
			rdb.Close()
		}
	}
	return c, cleanup, nil
}
