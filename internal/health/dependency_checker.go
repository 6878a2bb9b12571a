package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger 可探活的外部依赖（InfluxDB、MQTT 等）
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// DependencyChecker 可选外部依赖检查：失败只降级，不判不健康
type DependencyChecker struct {
	name string
	dep  Pinger
}

// NewDependencyChecker 创建依赖检查器
func NewDependencyChecker(name string, dep Pinger) *DependencyChecker {
	return &DependencyChecker{name: name, dep: dep}
}

// Name 返回检查器名称
func (c *DependencyChecker) Name() string { return c.name }

// Check 执行健康检查
func (c *DependencyChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.dep.HealthCheck(ctx); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%s unavailable: %v", c.name, err),
			Latency: time.Since(start),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok", Latency: time.Since(start)}
}
