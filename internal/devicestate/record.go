package devicestate

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record 设备状态快照（Redis 中的规范记录）
// 构造后视为只读，修改通过 WithUpdates 生成新记录。
type Record struct {
	DeviceID     string         `json:"deviceId"`
	Serial       string         `json:"serial"`
	State        State          `json:"state"`
	BatteryLevel *float64       `json:"batteryLevel,omitempty"` // 0-100
	Temperature  *float64       `json:"temperature,omitempty"`  // -50-100 摄氏度
	CPUUsage     *float64       `json:"cpuUsage,omitempty"`     // 0-100
	MemoryUsage  *float64       `json:"memoryUsage,omitempty"`  // 0-100
	StorageUsage *float64       `json:"storageUsage,omitempty"` // 0-100
	LastUpdated  time.Time      `json:"lastUpdated"`
	Metadata     map[string]any `json:"metadata"`
}

// Update WithUpdates 的可选字段，nil 表示保持原值
type Update struct {
	State        *State
	BatteryLevel *float64
	Temperature  *float64
	CPUUsage     *float64
	MemoryUsage  *float64
	StorageUsage *float64
	Metadata     map[string]any
	LastUpdated  time.Time
}

// Float 返回 v 的指针，便于构造可选指标
func Float(v float64) *float64 { return &v }

// NewRecord 校验并复制记录；LastUpdated 为零值时取当前时间
func NewRecord(r Record) (*Record, error) {
	out := r
	out.DeviceID = strings.TrimSpace(r.DeviceID)
	out.Serial = strings.TrimSpace(r.Serial)
	out.BatteryLevel = cloneFloat(r.BatteryLevel)
	out.Temperature = cloneFloat(r.Temperature)
	out.CPUUsage = cloneFloat(r.CPUUsage)
	out.MemoryUsage = cloneFloat(r.MemoryUsage)
	out.StorageUsage = cloneFloat(r.StorageUsage)
	out.Metadata = maps.Clone(r.Metadata)
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	if out.LastUpdated.IsZero() {
		out.LastUpdated = time.Now().UTC()
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate 检查必填字段与数值边界
func (r *Record) Validate() error {
	if r.DeviceID == "" {
		return fmt.Errorf("%w: device ID is required", ErrInvalidRecord)
	}
	if r.Serial == "" {
		return fmt.Errorf("%w: device serial is required", ErrInvalidRecord)
	}
	if !r.State.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidState, r.State)
	}
	if r.LastUpdated.IsZero() {
		return fmt.Errorf("%w: last updated time is required", ErrInvalidRecord)
	}
	checks := []struct {
		name     string
		v        *float64
		min, max float64
	}{
		{"battery level", r.BatteryLevel, 0, 100},
		{"temperature", r.Temperature, -50, 100},
		{"CPU usage", r.CPUUsage, 0, 100},
		{"memory usage", r.MemoryUsage, 0, 100},
		{"storage usage", r.StorageUsage, 0, 100},
	}
	for _, c := range checks {
		if c.v == nil {
			continue
		}
		if math.IsNaN(*c.v) || *c.v < c.min || *c.v > c.max {
			return fmt.Errorf("%w: %s must be between %g and %g", ErrInvalidRecord, c.name, c.min, c.max)
		}
	}
	return nil
}

// IsStale 距上次更新超过 maxAge 视为过期
func (r *Record) IsStale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(r.LastUpdated) > maxAge
}

// AttentionReasons 返回需要关注的原因，空切片表示健康
func (r *Record) AttentionReasons() []string {
	var reasons []string
	if r.State.IsError() {
		reasons = append(reasons, "error_state")
	}
	if r.BatteryLevel != nil && *r.BatteryLevel < 20 {
		reasons = append(reasons, "low_battery")
	}
	if r.Temperature != nil && (*r.Temperature > 70 || *r.Temperature < 0) {
		reasons = append(reasons, "abnormal_temperature")
	}
	if r.CPUUsage != nil && *r.CPUUsage > 90 {
		reasons = append(reasons, "high_cpu")
	}
	if r.MemoryUsage != nil && *r.MemoryUsage > 90 {
		reasons = append(reasons, "high_memory")
	}
	if r.StorageUsage != nil && *r.StorageUsage > 95 {
		reasons = append(reasons, "storage_full")
	}
	return reasons
}

// NeedsAttention 是否需要人工关注
func (r *Record) NeedsAttention() bool {
	return len(r.AttentionReasons()) > 0
}

// HealthScore 0-100 的健康分，纯函数
func (r *Record) HealthScore() int {
	score := 100

	// 状态扣分只取一项，按顺序匹配
	switch {
	case r.State.IsError():
		score -= 50
	case r.State.IsOffline():
		score -= 30
	case r.State == StateBatteryCritical:
		score -= 40
	case r.State == StateBatteryLow:
		score -= 20
	}

	if b := r.BatteryLevel; b != nil {
		switch {
		case *b < 10:
			score -= 20
		case *b < 20:
			score -= 10
		case *b < 30:
			score -= 5
		}
	}

	if t := r.Temperature; t != nil {
		switch {
		case *t > 80:
			score -= 20
		case *t > 70:
			score -= 10
		case *t > 60:
			score -= 5
		}
	}

	if c := r.CPUUsage; c != nil && *c > 80 {
		score -= int(math.Floor((*c - 80) / 2))
	}
	if m := r.MemoryUsage; m != nil && *m > 80 {
		score -= int(math.Floor((*m - 80) / 2))
	}
	if s := r.StorageUsage; s != nil && *s > 90 {
		score -= int(math.Floor(*s - 90))
	}

	if score < 0 {
		return 0
	}
	return score
}

// WithUpdates 基于当前记录生成新记录，未设置字段保持原值
func (r *Record) WithUpdates(u Update) (*Record, error) {
	next := *r
	if u.State != nil {
		next.State = *u.State
	}
	if u.BatteryLevel != nil {
		next.BatteryLevel = u.BatteryLevel
	}
	if u.Temperature != nil {
		next.Temperature = u.Temperature
	}
	if u.CPUUsage != nil {
		next.CPUUsage = u.CPUUsage
	}
	if u.MemoryUsage != nil {
		next.MemoryUsage = u.MemoryUsage
	}
	if u.StorageUsage != nil {
		next.StorageUsage = u.StorageUsage
	}
	if u.Metadata != nil {
		next.Metadata = u.Metadata
	}
	next.LastUpdated = u.LastUpdated
	if next.LastUpdated.IsZero() {
		next.LastUpdated = time.Now().UTC()
	}
	return NewRecord(next)
}

// ============================================================================
// Redis Hash 编解码
// ============================================================================

const (
	fieldDeviceID     = "deviceId"
	fieldSerial       = "serial"
	fieldState        = "state"
	fieldLastUpdated  = "lastUpdated"
	fieldBatteryLevel = "batteryLevel"
	fieldTemperature  = "temperature"
	fieldCPUUsage     = "cpuUsage"
	fieldMemoryUsage  = "memoryUsage"
	fieldStorageUsage = "storageUsage"
	fieldMetadata     = "metadata"
)

// ToHash 转为 Redis hash 字段；可选指标缺省时不写入，metadata 为空时不写入
func (r *Record) ToHash() map[string]string {
	h := map[string]string{
		fieldDeviceID:    r.DeviceID,
		fieldSerial:      r.Serial,
		fieldState:       string(r.State),
		fieldLastUpdated: r.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
	putFloat(h, fieldBatteryLevel, r.BatteryLevel)
	putFloat(h, fieldTemperature, r.Temperature)
	putFloat(h, fieldCPUUsage, r.CPUUsage)
	putFloat(h, fieldMemoryUsage, r.MemoryUsage)
	putFloat(h, fieldStorageUsage, r.StorageUsage)
	if len(r.Metadata) > 0 {
		if b, err := json.Marshal(r.Metadata); err == nil {
			h[fieldMetadata] = string(b)
		}
	}
	return h
}

// FromHash 从 Redis hash 还原记录
func FromHash(h map[string]string) (*Record, error) {
	ts, err := time.Parse(time.RFC3339Nano, h[fieldLastUpdated])
	if err != nil {
		return nil, fmt.Errorf("%w: lastUpdated: %v", ErrInvalidRecord, err)
	}
	r := Record{
		DeviceID:    h[fieldDeviceID],
		Serial:      h[fieldSerial],
		State:       State(h[fieldState]),
		LastUpdated: ts,
	}
	floats := []struct {
		key string
		dst **float64
	}{
		{fieldBatteryLevel, &r.BatteryLevel},
		{fieldTemperature, &r.Temperature},
		{fieldCPUUsage, &r.CPUUsage},
		{fieldMemoryUsage, &r.MemoryUsage},
		{fieldStorageUsage, &r.StorageUsage},
	}
	for _, f := range floats {
		raw, ok := h[f.key]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, f.key, err)
		}
		*f.dst = &v
	}
	if raw := h[fieldMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidRecord, err)
		}
	}
	return NewRecord(r)
}

func putFloat(h map[string]string, key string, v *float64) {
	if v != nil {
		h[key] = strconv.FormatFloat(*v, 'f', -1, 64)
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
