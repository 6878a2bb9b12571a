package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/device-gateway/internal/wsserver"
)

// WebSocketChecker WebSocket 网关健康检查：连接许可利用率与关闭状态
type WebSocketChecker struct {
	server *wsserver.Server
}

// NewWebSocketChecker 创建 WebSocket 健康检查器
func NewWebSocketChecker(server *wsserver.Server) *WebSocketChecker {
	return &WebSocketChecker{server: server}
}

// Name 返回检查器名称
func (c *WebSocketChecker) Name() string {
	return "websocket"
}

// Check 执行健康检查
func (c *WebSocketChecker) Check(_ context.Context) CheckResult {
	start := time.Now()

	if c.server.Closing() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "shutting down",
			Latency: time.Since(start),
		}
	}

	stats := c.server.Limiter().Stats()
	status, message := utilizationStatus(stats.Utilization, 0.8, 0.95)

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"open_connections":   c.server.Count(),
			"active_connections": stats.ActiveConnections,
			"max_connections":    stats.MaxConnections,
			"rejected_total":     stats.RejectedTotal,
			"utilization":        fmt.Sprintf("%.1f%%", stats.Utilization*100),
		},
		Latency: time.Since(start),
	}
}
