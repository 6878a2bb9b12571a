// Package handlers 各消息类型的业务处理器。
package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/metrics"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	"github.com/taoyao-code/device-gateway/internal/router"
	"github.com/taoyao-code/device-gateway/internal/storage"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

// StateStore 处理器使用的状态存储能力
type StateStore interface {
	UpdateState(ctx context.Context, deviceID string, rec *devicestate.Record) error
	UpdateStateChecked(ctx context.Context, deviceID string, rec *devicestate.Record, check func(prev *devicestate.Record) error) error
	GetStates(ctx context.Context, deviceIDs []string) ([]*devicestate.Record, error)
	GetAllStates(ctx context.Context) ([]*devicestate.Record, error)
	GetDevicesByState(ctx context.Context, st devicestate.State) ([]string, error)
	GetOnlineCount(ctx context.Context) (int64, error)
}

// StateObserver 设备状态写入成功后的旁路通知（告警、时序写入）。
// 错误只记录，不影响客户端响应。
type StateObserver interface {
	ObserveState(ctx context.Context, dev *models.Device, rec *devicestate.Record) error
}

// Deps 处理器依赖
type Deps struct {
	Devices     storage.DeviceRepo
	States      StateStore
	Broadcaster *outbound.Broadcaster
	Observers   []StateObserver
	Logger      *zap.Logger
	Metrics     *metrics.AppMetrics

	DefaultRoom     string
	DefaultUsername string
	StaleAfter      time.Duration

	// Now 测试注入时钟，默认 time.Now
	Now func() time.Time
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.DefaultRoom == "" {
		d.DefaultRoom = "general"
	}
	if d.DefaultUsername == "" {
		d.DefaultUsername = "Anonymous"
	}
	if d.StaleAfter <= 0 {
		d.StaleAfter = 300 * time.Second
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

func (d *Deps) now() time.Time { return d.Now().UTC() }

// NewTable 静态登记全部处理器
func NewTable(d Deps) (*router.Table, error) {
	d.defaults()
	t := router.NewTable()
	for _, h := range []router.Handler{
		&DeviceInfoHandler{deps: d, log: d.Logger.With(zap.String("handler", "device_info"))},
		&DeviceStateUpdateHandler{deps: d, log: d.Logger.With(zap.String("handler", "device_state_update"))},
		&GetDeviceStatesHandler{deps: d, log: d.Logger.With(zap.String("handler", "get_device_states"))},
		&ChatHandler{deps: d},
		&JoinRoomHandler{deps: d, log: d.Logger.With(zap.String("handler", "join_room"))},
		&LeaveRoomHandler{deps: d},
		&PingHandler{deps: d},
	} {
		if err := t.Register(h); err != nil {
			return nil, err
		}
	}
	return t, nil
}
