package storage

import (
	"context"
	"errors"
	"time"

	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

// ErrDeviceNotFound 设备不存在
var ErrDeviceNotFound = errors.New("device not found")

// DeviceFilter 设备列表筛选
type DeviceFilter struct {
	Brand  string
	Limit  int
	Offset int
}

// DeviceRepo 设备身份存储抽象。
// 约束：
// - serial 唯一，Upsert 以 serial 为冲突键，已有记录保留 id 与 created_at
// - 查询不到统一返回 ErrDeviceNotFound
type DeviceRepo interface {
	// Upsert 创建或更新设备并刷新 last_seen_at，返回落库后的记录
	Upsert(ctx context.Context, d *models.Device) (*models.Device, error)
	FindByID(ctx context.Context, id int64) (*models.Device, error)
	FindBySerial(ctx context.Context, serial string) (*models.Device, error)
	FindByIMEI(ctx context.Context, imei string) (*models.Device, error)
	FindByMAC(ctx context.Context, mac string) (*models.Device, error)
	FindByConnectionID(ctx context.Context, connID string) (*models.Device, error)
	// TouchLastSeen 刷新最近活跃时间；设备不存在返回 ErrDeviceNotFound
	TouchLastSeen(ctx context.Context, serial string, at time.Time) error
	// List 按 last_seen_at 倒序
	List(ctx context.Context, f DeviceFilter) ([]models.Device, error)
	Count(ctx context.Context, brand string) (int64, error)
	DeleteBySerial(ctx context.Context, serial string) error
}
