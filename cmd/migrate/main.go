package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/sanumxxx/melsu-portal-sub000/internal/cache"
	"github.com/sanumxxx/melsu-portal-sub000/internal/config"
	"github.com/sanumxxx/melsu-portal-sub000/internal/db"
	"github.com/sanumxxx/melsu-portal-sub000/internal/service"
)

func main() {
	var (
		envFile   string
		seed      bool
		warmCache bool
		actorID   uint
	)
	pflag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded outside production")
	pflag.BoolVar(&seed, "seed", false, "create default roles and grant templates")
	pflag.BoolVar(&warmCache, "warm-cache", false, "store the department tree in redis after migrating")
	pflag.UintVar(&actorID, "actor", 1, "user id recorded as the author of seeded rows")
	pflag.Parse()

	// -- Configs preload --
	if err := config.LoadEnvFile(envFile); err != nil {
		slog.Error("env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// -- Connect to DB --
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Error("database connection error", "error", err)
		os.Exit(1)
	}

	started := time.Now()
	if err := db.Migrate(database); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("schema migrated", "driver", cfg.DatabaseDriver, "took", time.Since(started))

	ctx := context.Background()
	opts := service.Options{
		Logger: logger,
		Audit:  service.NewGormAuditSink(database),
	}

	if seed {
		if err := seedDefaults(ctx, logger, service.NewRoleService(database, opts), service.NewGrantService(database, opts), actorID); err != nil {
			logger.Error("seeding failed", "error", err)
			os.Exit(1)
		}
	}

	if warmCache {
		if cfg.RedisURL == "" {
			logger.Warn("REDIS_URL is not set, skipping cache warm-up")
			return
		}
		treeCache, err := cache.NewRedisTreeCache(cfg.RedisURL, cfg.TreeCacheTTL)
		if err != nil {
			logger.Error("redis connection error", "error", err)
			os.Exit(1)
		}
		defer treeCache.Close()

		opts.Cache = treeCache
		departments := service.NewDepartmentService(database, opts)
		if err := treeCache.Invalidate(ctx); err != nil {
			logger.Warn("cache invalidation failed", "error", err)
		}
		snapshot, err := departments.Tree(ctx)
		if err != nil {
			logger.Error("loading department tree failed", "error", err)
			os.Exit(1)
		}
		logger.Info("department cache warmed", "departments", snapshot.Len(), "ttl", cfg.TreeCacheTTL)
	}
}
