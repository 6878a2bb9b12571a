package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	redisstore "github.com/taoyao-code/device-gateway/internal/storage/redis"
)

// StateChangedEvent 状态变更扇出帧中的 data.type
const StateChangedEvent = "device_state_changed"

const publishTimeout = 3 * time.Second

// StartStateFanout 订阅状态变更，转发到状态房间与外部发布方
func (c *Controller) StartStateFanout(ctx context.Context) error {
	if c.opts.States == nil {
		return nil
	}
	return c.opts.States.SubscribeToStateChanges(ctx, c.fanout)
}

// StopStateFanout 取消订阅
func (c *Controller) StopStateFanout() error {
	if c.opts.States == nil {
		return nil
	}
	return c.opts.States.UnsubscribeFromStateChanges()
}

// StateChangedFrame 状态房间收到的广播帧
func StateChangedFrame(ev redisstore.StateChange) wire.Frame {
	data := map[string]any{
		"type":      StateChangedEvent,
		"deviceId":  ev.DeviceID,
		"state":     ev.State,
		"timestamp": ev.Timestamp,
	}
	if ev.Record != nil {
		data["record"] = ev.Record
		data["needsAttention"] = ev.Record.NeedsAttention()
		data["healthScore"] = ev.Record.HealthScore()
	}
	return wire.NewFrame(wire.TypeBroadcast, data, "")
}

func (c *Controller) fanout(ev redisstore.StateChange) {
	if c.opts.StateRoom != "" && c.opts.Broadcaster != nil {
		n := c.opts.Broadcaster.BroadcastToRoom(c.opts.StateRoom, StateChangedFrame(ev), "")
		c.logger.Debug("state change fanned out",
			zap.String("device_id", ev.DeviceID),
			zap.String("state", ev.State.String()),
			zap.Int("recipients", n))
	}

	for _, p := range c.opts.Publishers {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.PublishStateChange(ctx, ev); err != nil {
			c.logger.Warn("publish state change failed",
				zap.String("device_id", ev.DeviceID),
				zap.Error(err))
		}
		cancel()
	}
}
