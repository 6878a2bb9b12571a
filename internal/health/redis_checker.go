package health

import (
	"context"
	"fmt"
	"time"

	redisstore "github.com/taoyao-code/device-gateway/internal/storage/redis"
)

// OnlineCounter 在线设备计数来源
type OnlineCounter interface {
	GetOnlineCount(ctx context.Context) (int64, error)
}

// RedisChecker 状态存储健康检查
type RedisChecker struct {
	client *redisstore.Client
	online OnlineCounter
}

// NewRedisChecker 创建Redis健康检查器；online 可为 nil
func NewRedisChecker(client *redisstore.Client, online OnlineCounter) *RedisChecker {
	return &RedisChecker{client: client, online: online}
}

// Name 返回检查器名称
func (c *RedisChecker) Name() string {
	return "redis"
}

// Check 执行健康检查
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if err := c.client.HealthCheck(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := c.client.Stats()
	utilization := 0.0
	if stats.TotalConns > 0 {
		utilization = float64(stats.TotalConns-stats.IdleConns) / float64(stats.TotalConns)
	}
	status, message := utilizationStatus(utilization, 0.9, 0)
	if stats.Misses > stats.Hits && stats.Hits > 0 {
		status, message = StatusDegraded, "low connection pool hit rate"
	}

	details := map[string]any{
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"utilization": fmt.Sprintf("%.1f%%", utilization*100),
	}
	if c.online != nil {
		if n, err := c.online.GetOnlineCount(ctx); err == nil {
			details["online_devices"] = n
		}
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
