package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taoyao-code/device-gateway/internal/storage"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

// upsertColumns 按 serial 冲突时覆盖的列
var upsertColumns = []string{
	"connection_id", "imei", "mac_address", "wifi_ip_address",
	"brand", "model", "android_release", "android_sdk_int",
	"updated_at", "last_seen_at",
}

// Repository 基于 GORM 的 DeviceRepo 实现
type Repository struct {
	db *gorm.DB
}

// New 返回使用给定 *gorm.DB 的 DeviceRepo
func New(db *gorm.DB) storage.DeviceRepo {
	return &Repository{db: db}
}

// Upsert 以 serial 为冲突键写入，随后回读完整记录
func (r *Repository) Upsert(ctx context.Context, d *models.Device) (*models.Device, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	record := *d
	record.ID = 0
	record.LastSeenAt = &now

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "serial"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(&record).Error
	if err != nil {
		return nil, err
	}
	return r.FindBySerial(ctx, d.Serial)
}

// FindByID 按主键查询
func (r *Repository) FindByID(ctx context.Context, id int64) (*models.Device, error) {
	return r.first(ctx, "id = ?", id)
}

// FindBySerial 按序列号查询
func (r *Repository) FindBySerial(ctx context.Context, serial string) (*models.Device, error) {
	return r.first(ctx, "serial = ?", serial)
}

// FindByIMEI 按 IMEI 查询
func (r *Repository) FindByIMEI(ctx context.Context, imei string) (*models.Device, error) {
	return r.first(ctx, "imei = ?", imei)
}

// FindByMAC 按 MAC 查询
func (r *Repository) FindByMAC(ctx context.Context, mac string) (*models.Device, error) {
	return r.first(ctx, "mac_address = ?", mac)
}

// FindByConnectionID 按最近一次登记的连接查询
func (r *Repository) FindByConnectionID(ctx context.Context, connID string) (*models.Device, error) {
	return r.first(ctx, "connection_id = ?", connID)
}

func (r *Repository) first(ctx context.Context, query string, arg any) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).Where(query, arg).Order("id").First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// TouchLastSeen 刷新 last_seen_at 与 updated_at
func (r *Repository) TouchLastSeen(ctx context.Context, serial string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("serial = ?", serial).
		Updates(map[string]interface{}{
			"last_seen_at": at.UTC(),
			"updated_at":   gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrDeviceNotFound
	}
	return nil
}

// List 分页返回设备，最近活跃在前
func (r *Repository) List(ctx context.Context, f storage.DeviceFilter) ([]models.Device, error) {
	var devices []models.Device
	q := r.db.WithContext(ctx).Order("last_seen_at DESC NULLS LAST").Order("id DESC")
	if f.Brand != "" {
		q = q.Where("brand = ?", f.Brand)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if err := q.Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// Count 设备总数，brand 非空时按品牌计数
func (r *Repository) Count(ctx context.Context, brand string) (int64, error) {
	var n int64
	q := r.db.WithContext(ctx).Model(&models.Device{})
	if brand != "" {
		q = q.Where("brand = ?", brand)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteBySerial 删除设备；不存在时不报错
func (r *Repository) DeleteBySerial(ctx context.Context, serial string) error {
	return r.db.WithContext(ctx).Where("serial = ?", serial).Delete(&models.Device{}).Error
}
