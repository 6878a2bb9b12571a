package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/device-gateway/internal/config"
	"github.com/taoyao-code/device-gateway/internal/migrate"
	"github.com/taoyao-code/device-gateway/internal/storage"
	"github.com/taoyao-code/device-gateway/internal/storage/gormrepo"
	"github.com/taoyao-code/device-gateway/internal/storage/memrepo"
	pgstorage "github.com/taoyao-code/device-gateway/internal/storage/pg"
)

// DeviceStore 设备身份存储及其底层连接池（memory 驱动时 Pool 为 nil）
type DeviceStore struct {
	Repo storage.DeviceRepo
	Pool *pgxpool.Pool
}

// Close 释放连接池
func (s *DeviceStore) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenDeviceStore 按驱动建立设备存储；postgres 驱动按需执行迁移
func OpenDeviceStore(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*DeviceStore, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("using in-memory device store, identities are lost on restart")
		return &DeviceStore{Repo: memrepo.New()}, nil
	case "", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	pool, err := pgstorage.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, err
	}
	if cfg.AutoMigrate {
		n, err := migrate.Runner{Logger: log}.Up(ctx, pool)
		if err != nil {
			log.Error("db migrate error", zap.Error(err))
			pool.Close()
			return nil, err
		}
		log.Info("db migrations applied", zap.Int("count", n))
	}

	db, err := gormrepo.Open(pool, log, cfg.LogSQL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &DeviceStore{Repo: gormrepo.New(db), Pool: pool}, nil
}
