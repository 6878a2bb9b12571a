// Package memrepo 进程内 DeviceRepo 实现，用于 database.driver=memory 与测试。
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taoyao-code/device-gateway/internal/storage"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

// Repository 以 serial 为键的内存设备表
type Repository struct {
	mu       sync.RWMutex
	nextID   int64
	bySerial map[string]*models.Device
	now      func() time.Time
}

// New 创建空的内存仓库
func New() *Repository {
	return &Repository{
		bySerial: make(map[string]*models.Device),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ storage.DeviceRepo = (*Repository)(nil)

// Upsert 按 serial 创建或覆盖可变字段
func (r *Repository) Upsert(_ context.Context, d *models.Device) (*models.Device, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := clone(d)
	if prev, ok := r.bySerial[d.Serial]; ok {
		rec.ID = prev.ID
		rec.CreatedAt = prev.CreatedAt
	} else {
		r.nextID++
		rec.ID = r.nextID
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.LastSeenAt = &now
	r.bySerial[d.Serial] = rec
	return clone(rec), nil
}

func (r *Repository) FindByID(_ context.Context, id int64) (*models.Device, error) {
	return r.find(func(d *models.Device) bool { return d.ID == id })
}

func (r *Repository) FindBySerial(_ context.Context, serial string) (*models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.bySerial[serial]
	if !ok {
		return nil, storage.ErrDeviceNotFound
	}
	return clone(d), nil
}

func (r *Repository) FindByIMEI(_ context.Context, imei string) (*models.Device, error) {
	return r.find(func(d *models.Device) bool { return d.IMEI != nil && *d.IMEI == imei })
}

func (r *Repository) FindByMAC(_ context.Context, mac string) (*models.Device, error) {
	return r.find(func(d *models.Device) bool { return d.MACAddress != nil && *d.MACAddress == mac })
}

func (r *Repository) FindByConnectionID(_ context.Context, connID string) (*models.Device, error) {
	return r.find(func(d *models.Device) bool { return d.ConnectionID == connID })
}

// find 多条匹配时取 id 最小者，与 SQL 实现一致
func (r *Repository) find(match func(*models.Device) bool) (*models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var hit *models.Device
	for _, d := range r.bySerial {
		if match(d) && (hit == nil || d.ID < hit.ID) {
			hit = d
		}
	}
	if hit == nil {
		return nil, storage.ErrDeviceNotFound
	}
	return clone(hit), nil
}

func (r *Repository) TouchLastSeen(_ context.Context, serial string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.bySerial[serial]
	if !ok {
		return storage.ErrDeviceNotFound
	}
	ts := at.UTC()
	d.LastSeenAt = &ts
	d.UpdatedAt = r.now()
	return nil
}

func (r *Repository) List(_ context.Context, f storage.DeviceFilter) ([]models.Device, error) {
	r.mu.RLock()
	out := make([]models.Device, 0, len(r.bySerial))
	for _, d := range r.bySerial {
		if f.Brand != "" && d.Brand != f.Brand {
			continue
		}
		out = append(out, *clone(d))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastSeenAt, out[j].LastSeenAt
		switch {
		case a == nil && b == nil:
			return out[i].ID > out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return out[i].ID > out[j].ID
		}
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Device{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *Repository) Count(_ context.Context, brand string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if brand == "" {
		return int64(len(r.bySerial)), nil
	}
	var n int64
	for _, d := range r.bySerial {
		if d.Brand == brand {
			n++
		}
	}
	return n, nil
}

func (r *Repository) DeleteBySerial(_ context.Context, serial string) error {
	r.mu.Lock()
	delete(r.bySerial, serial)
	r.mu.Unlock()
	return nil
}

func clone(d *models.Device) *models.Device {
	c := *d
	c.IMEI = cloneStr(d.IMEI)
	c.MACAddress = cloneStr(d.MACAddress)
	c.WifiIPAddress = cloneStr(d.WifiIPAddress)
	if d.LastSeenAt != nil {
		ts := *d.LastSeenAt
		c.LastSeenAt = &ts
	}
	return &c
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
