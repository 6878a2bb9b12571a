package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	redisstore "github.com/taoyao-code/device-gateway/internal/storage/redis"
)

const (
	// 去重Key前缀
	dedupKeyPrefix = "device:alert:dedup"

	// DefaultCooldown 默认冷却时间
	DefaultCooldown = 5 * time.Minute
)

var errDeduperNotInitialized = errors.New("deduper not initialized")

// Deduper 告警去重（Redis SET NX + 冷却 TTL）
type Deduper struct {
	redis  *redisstore.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDeduper 创建去重器
func NewDeduper(client *redisstore.Client, logger *zap.Logger, cooldown time.Duration) *Deduper {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{redis: client, logger: logger, ttl: cooldown}
}

// IsDuplicate 冷却期内已出现过返回 true；首次出现时同时写入标记
func (d *Deduper) IsDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	if d == nil || d.redis == nil {
		return false, errDeduperNotInitialized
	}
	if fingerprint == "" {
		return false, errors.New("fingerprint is empty")
	}

	ok, err := d.redis.SetNX(ctx, d.buildKey(fingerprint), "1", d.ttl).Result()
	if err != nil {
		d.logger.Error("alert dedup check failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		d.logger.Debug("duplicate alert suppressed", zap.String("fingerprint", fingerprint))
	}
	return !ok, nil
}

// Delete 清除标记，推送失败时调用以便下次重试
func (d *Deduper) Delete(ctx context.Context, fingerprint string) error {
	if d == nil || d.redis == nil {
		return errDeduperNotInitialized
	}
	return d.redis.Del(ctx, d.buildKey(fingerprint)).Err()
}

// Cooldown 冷却时间
func (d *Deduper) Cooldown() time.Duration { return d.ttl }

func (d *Deduper) buildKey(fingerprint string) string {
	return fmt.Sprintf("%s:%s", dedupKeyPrefix, fingerprint)
}
