package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/device-gateway/internal/config"
	redisstore "github.com/taoyao-code/device-gateway/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstore.Client, error) {
	client, err := redisstore.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))
	return client, nil
}

// NewStateStore 创建设备状态存储
func NewStateStore(client *redisstore.Client, cfg cfgpkg.DeviceStateConfig, logger *zap.Logger) *redisstore.StateStore {
	return redisstore.NewStateStore(client, logger.Named("state_store"), cfg.TTL)
}
