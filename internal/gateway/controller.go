// Package gateway 把传输事件接到消息分发与设备状态存储上。
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/handlers"
	"github.com/taoyao-code/device-gateway/internal/metrics"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/router"
	"github.com/taoyao-code/device-gateway/internal/session"
	redisstore "github.com/taoyao-code/device-gateway/internal/storage/redis"
	"github.com/taoyao-code/device-gateway/internal/wsserver"
)

// ConnectionErrorMessage 传输错误时回给客户端的描述
const ConnectionErrorMessage = "Connection error occurred"

// ErrRateLimited 单连接消息速率超限
var ErrRateLimited = apperr.Validation("Rate limit exceeded, slow down")

// StateTracker 控制器使用的状态存储能力
type StateTracker interface {
	SetOffline(ctx context.Context, deviceID string) error
	SubscribeToStateChanges(ctx context.Context, cb func(redisstore.StateChange)) error
	UnsubscribeFromStateChanges() error
}

// StatePublisher 状态变更的外部投递（如 MQTT 桥）
type StatePublisher interface {
	PublishStateChange(ctx context.Context, ev redisstore.StateChange) error
}

// Options 控制器依赖与参数
type Options struct {
	Registry    *session.Registry
	Dispatcher  *router.Dispatcher
	Broadcaster *outbound.Broadcaster
	States      StateTracker
	Publishers  []StatePublisher
	Logger      *zap.Logger
	Metrics     *metrics.AppMetrics

	MessageTimeout  time.Duration
	MessageRate     float64
	MessageBurst    int
	StateRoom       string
	DefaultUsername string
	CloseTimeout    time.Duration
}

// Controller 实现 wsserver.Events
type Controller struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[uint64]*wsserver.RateLimiter
}

var _ wsserver.Events = (*Controller)(nil)

// New 创建控制器
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = 5 * time.Second
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 5 * time.Second
	}
	if opts.DefaultUsername == "" {
		opts.DefaultUsername = "Anonymous"
	}
	return &Controller{
		opts:     opts,
		logger:   opts.Logger,
		limiters: make(map[uint64]*wsserver.RateLimiter),
	}
}

// OnOpen 注册连接并发送欢迎帧
func (c *Controller) OnOpen(handle uint64, t session.Transport) {
	conn := session.NewConn(handle, t)
	conn.SetStatus(session.StatusConnected)
	c.opts.Registry.Add(conn)

	if c.opts.MessageRate > 0 {
		c.mu.Lock()
		c.limiters[handle] = wsserver.NewRateLimiter(c.opts.MessageRate, c.opts.MessageBurst)
		c.mu.Unlock()
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.WSActive.Inc()
	}

	c.logger.Info("connection established",
		zap.String("conn_id", conn.ID()),
		zap.String("remote", conn.RemoteAddr()))

	if err := outbound.SendFrame(conn, wire.WelcomeFrame(conn.ID())); err != nil {
		c.logger.Warn("send welcome failed", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}

// OnMessage 限速后在单条消息期限内分发
func (c *Controller) OnMessage(ctx context.Context, handle uint64, data []byte) {
	conn, ok := c.opts.Registry.FindByHandle(handle)
	if !ok {
		c.logger.Warn("message from unknown connection", zap.Uint64("handle", handle))
		return
	}

	if lim := c.limiter(handle); lim != nil && !lim.Allow() {
		if c.opts.Metrics != nil {
			c.opts.Metrics.MessagesTotal.WithLabelValues("unknown", "throttled").Inc()
		}
		c.logger.Debug("message throttled", zap.String("conn_id", conn.ID()))
		_ = outbound.SendError(conn, ErrRateLimited)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.MessageTimeout)
	defer cancel()
	if err := c.opts.Dispatcher.Dispatch(ctx, conn, data); err != nil && errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("message handling timed out",
			zap.String("conn_id", conn.ID()),
			zap.Duration("timeout", c.opts.MessageTimeout))
	}
}

// OnClose 设备置离线、通知房间并移除连接。
// 设备已在其它连接上重新注册时不改动状态。
func (c *Controller) OnClose(handle uint64) {
	conn, ok := c.opts.Registry.FindByHandle(handle)
	if !ok {
		return
	}

	meta := conn.Metadata()
	deviceID, _ := meta[session.MetaDeviceID].(string)
	room, _ := meta[session.MetaRoom].(string)
	username, _ := meta[session.MetaUsername].(string)

	if _, err := c.opts.Registry.Remove(conn.ID()); err != nil {
		c.logger.Debug("close transport", zap.String("conn_id", conn.ID()), zap.Error(err))
	}

	c.mu.Lock()
	delete(c.limiters, handle)
	c.mu.Unlock()
	if c.opts.Metrics != nil {
		c.opts.Metrics.WSActive.Dec()
	}

	if deviceID != "" && c.opts.States != nil && c.deviceStillConnected(deviceID) {
		c.logger.Debug("device reconnected elsewhere, keep state",
			zap.String("conn_id", conn.ID()),
			zap.String("device_id", deviceID))
	} else if deviceID != "" && c.opts.States != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.CloseTimeout)
		if err := c.opts.States.SetOffline(ctx, deviceID); err != nil {
			c.logger.Warn("mark device offline failed",
				zap.String("conn_id", conn.ID()),
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
		cancel()
	}

	if room != "" && c.opts.Broadcaster != nil {
		if username == "" {
			username = c.opts.DefaultUsername
		}
		c.opts.Broadcaster.BroadcastToRoom(room, handlers.RoomNotice(handlers.NoticeUserLeft, room, username), conn.ID())
	}

	c.logger.Info("connection closed",
		zap.String("conn_id", conn.ID()),
		zap.String("device_id", deviceID),
		zap.String("room", room))
}

// OnError 记录传输错误并尽力告知客户端
func (c *Controller) OnError(handle uint64, err error) {
	conn, ok := c.opts.Registry.FindByHandle(handle)
	if !ok {
		c.logger.Warn("transport error on unknown connection", zap.Uint64("handle", handle), zap.Error(err))
		return
	}
	c.logger.Warn("transport error", zap.String("conn_id", conn.ID()), zap.Error(err))
	f := wire.ErrorFrame(ConnectionErrorMessage, apperr.Connection(ConnectionErrorMessage, err).Code, nil)
	if sendErr := outbound.SendFrame(conn, f); sendErr != nil {
		c.logger.Debug("send connection error frame failed", zap.String("conn_id", conn.ID()), zap.Error(sendErr))
	}
}

// deviceStillConnected 设备是否仍有其它已连接的连接
func (c *Controller) deviceStillConnected(deviceID string) bool {
	return len(c.opts.Registry.FindByDeviceID(deviceID)) > 0
}

func (c *Controller) limiter(handle uint64) *wsserver.RateLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limiters[handle]
}
