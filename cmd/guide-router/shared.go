package main

import (
	"context"
	"fmt"
	"os"

	"github.com/guide-lms/guide-router/config"
	"github.com/guide-lms/guide-router/internal/domain/group"
	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/postgres"
	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/redis"
	"github.com/guide-lms/guide-router/pkg/logger"
)

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: cfg.Observability.LogFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log.With(logger.String("service", cfg.App.Name)), nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*postgres.Connection, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	pg := postgres.DefaultConfig(cfg.URL)
	if cfg.MaxOpenConns > 0 {
		pg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pg.MinConns = int32(min(cfg.MaxIdleConns, cfg.MaxOpenConns))
	}
	if cfg.ConnMaxLifetime > 0 {
		pg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	conn, err := postgres.NewConnection(ctx, pg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return conn, nil
}

func openRedis(cfg config.RedisConfig) (*redis.Cache, error) {
	cache, err := redis.NewCache(redis.Config{
		URL:          cfg.URL,
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return cache, nil
}

func readGroups(path string) ([]*group.Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open groups file: %w", err)
	}
	defer f.Close()
	return group.LoadGroups(f)
}
