// Package driver 按配置选择文档存储后端
package driver

import (
	"fmt"

	"go.uber.org/zap"

	"letterdrop/backend/internal/config"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/storage"
	"letterdrop/backend/internal/storage/filesystem"
	"letterdrop/backend/internal/storage/memory"
	"letterdrop/backend/internal/storage/redis"
	sqlstore "letterdrop/backend/internal/storage/sql"
)

// 支持的驱动名
const (
	File   = "file"
	Redis  = "redis"
	SQL    = "sql"
	Memory = "memory"
)

// Open 创建 name 指定的文档存储，name 为空时使用 cfg.Storage.Driver
func Open(cfg *config.Config, name string, log *zap.Logger) (storage.Backend, error) {
	log = logger.OrNop(log)
	if name == "" {
		name = cfg.Storage.Driver
	}

	switch name {
	case File, "":
		store, err := filesystem.NewStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open data directory: %w", err)
		}
		log.Info("using filesystem document storage", zap.String("path", store.BasePath()))
		return store, nil

	case Memory:
		log.Warn("using memory document storage, data is lost on restart")
		return memory.NewStore(), nil

	case Redis:
		client, err := redis.New(&cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		log.Info("using redis document storage", zap.String("address", cfg.Redis.Address))
		return redis.NewStore(client, cfg.Redis.Prefix), nil

	case SQL:
		store, err := sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			return nil, err
		}
		log.Info("using sql document storage", zap.String("database_type", cfg.Database.Type))
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q (supported: file, redis, sql, memory)", name)
	}
}
