package devicestate

import (
	"maps"
	"time"
)

// Metrics 设备上报的原始指标
type Metrics struct {
	BatteryLevel *float64
	Temperature  *float64
	CPUUsage     *float64
	MemoryUsage  *float64
	StorageUsage *float64
}

func stamp(at time.Time) string {
	return at.UTC().Format(time.RFC3339Nano)
}

// Initial 设备首次接入：CONNECTING
func Initial(deviceID, serial string, at time.Time) (*Record, error) {
	return NewRecord(Record{
		DeviceID:    deviceID,
		Serial:      serial,
		State:       StateConnecting,
		LastUpdated: at,
		Metadata: map[string]any{
			"initialConnection": true,
			"connectedAt":       stamp(at),
		},
	})
}

// Online 设备注册完成：ONLINE，附带调用方的元数据快照
func Online(deviceID, serial string, meta map[string]any, at time.Time) (*Record, error) {
	m := maps.Clone(meta)
	if m == nil {
		m = map[string]any{}
	}
	m["onlineAt"] = stamp(at)
	return NewRecord(Record{
		DeviceID:    deviceID,
		Serial:      serial,
		State:       StateOnline,
		LastUpdated: at,
		Metadata:    m,
	})
}

// Offline 设备下线
func Offline(deviceID, serial string, at time.Time) (*Record, error) {
	return NewRecord(Record{
		DeviceID:    deviceID,
		Serial:      serial,
		State:       StateOffline,
		LastUpdated: at,
		Metadata:    map[string]any{"offlineAt": stamp(at)},
	})
}

// Errored 设备故障
func Errored(deviceID, serial, message string, at time.Time) (*Record, error) {
	return NewRecord(Record{
		DeviceID:    deviceID,
		Serial:      serial,
		State:       StateError,
		LastUpdated: at,
		Metadata: map[string]any{
			"error":   message,
			"errorAt": stamp(at),
		},
	})
}

// FromMetrics 根据指标推断状态：
// 电量 <5 → BATTERY_CRITICAL，<20 → BATTERY_LOW；CPU >80 → BUSY（优先）；
// 温度 >70 只打标记不改状态。
func FromMetrics(deviceID, serial string, m Metrics, at time.Time) (*Record, error) {
	state := StateOnline
	meta := map[string]any{}

	if b := m.BatteryLevel; b != nil {
		switch {
		case *b < 5:
			state = StateBatteryCritical
			meta["batteryAlert"] = "critical"
		case *b < 20:
			state = StateBatteryLow
			meta["batteryAlert"] = "low"
		}
	}
	if t := m.Temperature; t != nil && *t > 70 {
		meta["temperatureAlert"] = "high"
	}
	if c := m.CPUUsage; c != nil && *c > 80 {
		state = StateBusy
		meta["cpuAlert"] = "high"
	}

	return NewRecord(Record{
		DeviceID:     deviceID,
		Serial:       serial,
		State:        state,
		BatteryLevel: m.BatteryLevel,
		Temperature:  m.Temperature,
		CPUUsage:     m.CPUUsage,
		MemoryUsage:  m.MemoryUsage,
		StorageUsage: m.StorageUsage,
		LastUpdated:  at,
		Metadata:     meta,
	})
}
