// Package health 组件健康检查与探针路由。
package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 健康
	StatusDegraded  Status = "degraded"  // 降级（部分功能受损但仍可服务）
	StatusUnhealthy Status = "unhealthy" // 不健康（无法服务）
)

// CheckResult 健康检查结果
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// Checker 健康检查器接口
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// utilizationStatus 按利用率分级，unhealthyAt<=0 表示不判不健康
func utilizationStatus(u, degradedAt, unhealthyAt float64) (Status, string) {
	switch {
	case unhealthyAt > 0 && u >= unhealthyAt:
		return StatusUnhealthy, "capacity exhausted"
	case u > degradedAt:
		return StatusDegraded, "near capacity"
	default:
		return StatusHealthy, "ok"
	}
}
