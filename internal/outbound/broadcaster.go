// Package outbound 服务端下发：单连接响应与多连接扇出。
package outbound

import (
	"errors"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/metrics"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/session"
)

const (
	scopeAll  = "all"
	scopeRoom = "room"
	scopeUser = "user"
)

// Broadcaster 尽力而为的扇出：单个接收方失败只记录，不影响其它接收方
type Broadcaster struct {
	registry *session.Registry
	logger   *zap.Logger
	metrics  *metrics.AppMetrics
}

// NewBroadcaster 创建扇出器；logger/metrics 可为 nil
func NewBroadcaster(reg *session.Registry, logger *zap.Logger, m *metrics.AppMetrics) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{registry: reg, logger: logger, metrics: m}
}

// Broadcast 发给所有已连接连接，excludeID 非空时跳过该连接
func (b *Broadcaster) Broadcast(f wire.Frame, excludeID string) int {
	conns := b.registry.GetAll()
	live := conns[:0]
	for _, c := range conns {
		if c.IsConnected() {
			live = append(live, c)
		}
	}
	return b.deliver(scopeAll, live, f, excludeID)
}

// BroadcastToRoom 发给房间内的连接
func (b *Broadcaster) BroadcastToRoom(room string, f wire.Frame, excludeID string) int {
	return b.deliver(scopeRoom, b.registry.FindByRoom(room), f, excludeID)
}

// SendToUser 发给某用户的全部连接
func (b *Broadcaster) SendToUser(userID string, f wire.Frame) int {
	return b.deliver(scopeUser, b.registry.FindByUserID(userID), f, "")
}

func (b *Broadcaster) deliver(scope string, conns []*session.Conn, f wire.Frame, excludeID string) int {
	if len(conns) == 0 {
		return 0
	}
	data, err := f.Encode()
	if err != nil {
		b.logger.Error("encode broadcast frame failed", zap.String("type", f.Type.String()), zap.Error(err))
		return 0
	}

	sent := 0
	for _, c := range conns {
		if excludeID != "" && c.ID() == excludeID {
			continue
		}
		if err := c.Send(data); err != nil {
			b.logger.Warn("broadcast delivery failed",
				zap.String("scope", scope),
				zap.String("conn_id", c.ID()),
				zap.String("type", f.Type.String()),
				zap.Error(err))
			b.count(scope, "failed")
			continue
		}
		sent++
		b.count(scope, "sent")
	}
	return sent
}

func (b *Broadcaster) count(scope, result string) {
	if b.metrics != nil {
		b.metrics.BroadcastTotal.WithLabelValues(scope, result).Inc()
	}
}

// SendResponse 向单个连接发送响应帧
func SendResponse(c *session.Conn, t wire.MessageType, data any, clientID string) error {
	return SendFrame(c, wire.NewFrame(t, data, clientID))
}

// SendFrame 编码并发送
func SendFrame(c *session.Conn, f wire.Frame) error {
	b, err := f.Encode()
	if err != nil {
		return apperr.Internal("encode frame", err)
	}
	if err := c.Send(b); err != nil {
		return apperr.Connection("send frame", err)
	}
	return nil
}

// SendError 把错误转换为对外错误帧并发送。
// 校验错误附带逐字段明细；非可操作错误统一为 "Internal server error"。
func SendError(c *session.Conn, err error) error {
	message, code, errs := apperr.Public(err)
	return SendFrame(c, wire.ErrorFrame(message, code, errs))
}

// IsNotConnected 发送失败是否因为连接已断开
func IsNotConnected(err error) bool {
	return errors.Is(err, session.ErrNotConnected)
}
