package devicestate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 8, 30, 0, 123000000, time.UTC)

func mustRecord(t *testing.T, r Record) *Record {
	t.Helper()
	if r.DeviceID == "" {
		r.DeviceID = "42"
	}
	if r.Serial == "" {
		r.Serial = "ABC123456"
	}
	if r.State == "" {
		r.State = StateOnline
	}
	if r.LastUpdated.IsZero() {
		r.LastUpdated = baseTime
	}
	rec, err := NewRecord(r)
	require.NoError(t, err)
	return rec
}

func TestNewRecord_Validation(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		ok   bool
	}{
		{"缺少设备ID", Record{Serial: "S", State: StateOnline}, false},
		{"空白序列号", Record{DeviceID: "1", Serial: "  ", State: StateOnline}, false},
		{"未知状态", Record{DeviceID: "1", Serial: "S", State: "NAP"}, false},
		{"电量上界", Record{DeviceID: "1", Serial: "S", State: StateOnline, BatteryLevel: Float(100)}, true},
		{"电量越界", Record{DeviceID: "1", Serial: "S", State: StateOnline, BatteryLevel: Float(100.5)}, false},
		{"电量为负", Record{DeviceID: "1", Serial: "S", State: StateOnline, BatteryLevel: Float(-1)}, false},
		{"温度下界", Record{DeviceID: "1", Serial: "S", State: StateOnline, Temperature: Float(-50)}, true},
		{"温度越界", Record{DeviceID: "1", Serial: "S", State: StateOnline, Temperature: Float(-51)}, false},
		{"CPU越界", Record{DeviceID: "1", Serial: "S", State: StateOnline, CPUUsage: Float(101)}, false},
		{"内存越界", Record{DeviceID: "1", Serial: "S", State: StateOnline, MemoryUsage: Float(150)}, false},
		{"存储越界", Record{DeviceID: "1", Serial: "S", State: StateOnline, StorageUsage: Float(-0.1)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRecord(tc.rec)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewRecord_DefaultsAndCopies(t *testing.T) {
	meta := map[string]any{"k": "v"}
	battery := 50.0
	rec, err := NewRecord(Record{DeviceID: "1", Serial: "S", State: StateIdle, BatteryLevel: &battery, Metadata: meta})
	require.NoError(t, err)

	assert.False(t, rec.LastUpdated.IsZero())
	meta["k"] = "changed"
	battery = 1
	assert.Equal(t, "v", rec.Metadata["k"])
	assert.Equal(t, 50.0, *rec.BatteryLevel)

	empty, err := NewRecord(Record{DeviceID: "1", Serial: "S", State: StateIdle})
	require.NoError(t, err)
	assert.NotNil(t, empty.Metadata)
}

func TestNeedsAttention_Boundaries(t *testing.T) {
	assert.True(t, mustRecord(t, Record{BatteryLevel: Float(19)}).NeedsAttention())
	assert.False(t, mustRecord(t, Record{BatteryLevel: Float(20)}).NeedsAttention())

	assert.False(t, mustRecord(t, Record{Temperature: Float(70)}).NeedsAttention())
	assert.True(t, mustRecord(t, Record{Temperature: Float(71)}).NeedsAttention())
	assert.True(t, mustRecord(t, Record{Temperature: Float(-1)}).NeedsAttention())
	assert.False(t, mustRecord(t, Record{Temperature: Float(0)}).NeedsAttention())

	assert.False(t, mustRecord(t, Record{CPUUsage: Float(90)}).NeedsAttention())
	assert.True(t, mustRecord(t, Record{CPUUsage: Float(91)}).NeedsAttention())
	assert.True(t, mustRecord(t, Record{MemoryUsage: Float(90.5)}).NeedsAttention())
	assert.False(t, mustRecord(t, Record{StorageUsage: Float(95)}).NeedsAttention())
	assert.True(t, mustRecord(t, Record{StorageUsage: Float(96)}).NeedsAttention())

	assert.True(t, mustRecord(t, Record{State: StateError}).NeedsAttention())
	assert.True(t, mustRecord(t, Record{State: StateUnreachable}).NeedsAttention())
	assert.False(t, mustRecord(t, Record{State: StateMaintenance}).NeedsAttention())
	assert.False(t, mustRecord(t, Record{State: StateOnline}).NeedsAttention())
}

func TestAttentionReasons(t *testing.T) {
	rec := mustRecord(t, Record{State: StateError, BatteryLevel: Float(5), CPUUsage: Float(95)})
	assert.Equal(t, []string{"error_state", "low_battery", "high_cpu"}, rec.AttentionReasons())
	assert.Empty(t, mustRecord(t, Record{}).AttentionReasons())
}

func TestHealthScore(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		want int
	}{
		{"健康在线", Record{State: StateOnline}, 100},
		{"错误状态", Record{State: StateError}, 50},
		{"不可达", Record{State: StateUnreachable}, 50},
		{"离线", Record{State: StateOffline}, 70},
		{"断开", Record{State: StateDisconnected}, 70},
		{"电量危急", Record{State: StateBatteryCritical}, 60},
		{"电量低", Record{State: StateBatteryLow}, 80},
		{"电量<10", Record{BatteryLevel: Float(9)}, 80},
		{"电量<20", Record{BatteryLevel: Float(19)}, 90},
		{"电量<30", Record{BatteryLevel: Float(29.9)}, 95},
		{"电量30", Record{BatteryLevel: Float(30)}, 100},
		{"温度>80", Record{Temperature: Float(81)}, 80},
		{"温度>70", Record{Temperature: Float(75)}, 90},
		{"温度>60", Record{Temperature: Float(61)}, 95},
		{"CPU85", Record{State: StateBusy, CPUUsage: Float(85)}, 98},
		{"内存95", Record{MemoryUsage: Float(95)}, 93},
		{"存储99.5", Record{StorageUsage: Float(99.5)}, 91},
		{
			"全面恶化不低于0",
			Record{
				State: StateError, BatteryLevel: Float(1), Temperature: Float(99),
				CPUUsage: Float(100), MemoryUsage: Float(100), StorageUsage: Float(100),
			},
			0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := mustRecord(t, tc.rec)
			assert.Equal(t, tc.want, rec.HealthScore())
			// 纯函数：重复调用结果一致
			assert.Equal(t, rec.HealthScore(), rec.HealthScore())
		})
	}
}

func TestHealthScore_Range(t *testing.T) {
	for _, s := range AllStates {
		for _, v := range []float64{0, 10, 50, 81, 100} {
			rec := mustRecord(t, Record{
				State: s, BatteryLevel: Float(v), Temperature: Float(v),
				CPUUsage: Float(v), MemoryUsage: Float(v), StorageUsage: Float(v),
			})
			score := rec.HealthScore()
			assert.GreaterOrEqual(t, score, 0)
			assert.LessOrEqual(t, score, 100)
		}
	}
}

func TestIsStale(t *testing.T) {
	rec := mustRecord(t, Record{LastUpdated: baseTime})
	assert.False(t, rec.IsStale(300*time.Second, baseTime.Add(300*time.Second)))
	assert.True(t, rec.IsStale(300*time.Second, baseTime.Add(301*time.Second)))
}

func TestWithUpdates(t *testing.T) {
	rec := mustRecord(t, Record{BatteryLevel: Float(80), Metadata: map[string]any{"a": "b"}})
	busy := StateBusy
	later := baseTime.Add(time.Minute)

	next, err := rec.WithUpdates(Update{State: &busy, CPUUsage: Float(70), LastUpdated: later})
	require.NoError(t, err)
	assert.Equal(t, StateBusy, next.State)
	assert.Equal(t, 80.0, *next.BatteryLevel)
	assert.Equal(t, 70.0, *next.CPUUsage)
	assert.Equal(t, "b", next.Metadata["a"])
	assert.Equal(t, later, next.LastUpdated)

	// 原记录不变
	assert.Equal(t, StateOnline, rec.State)
	assert.Nil(t, rec.CPUUsage)

	_, err = rec.WithUpdates(Update{BatteryLevel: Float(101)})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	refreshed, err := rec.WithUpdates(Update{})
	require.NoError(t, err)
	assert.True(t, refreshed.LastUpdated.After(rec.LastUpdated))
}

func TestHashRoundTrip(t *testing.T) {
	rec := mustRecord(t, Record{
		DeviceID:     "7",
		Serial:       "R58M123ABC",
		State:        StateWorking,
		BatteryLevel: Float(63.5),
		Temperature:  Float(-3.25),
		CPUUsage:     Float(12),
		StorageUsage: Float(99.99),
		Metadata: map[string]any{
			"connectionId": "c-1",
			"job":          map[string]any{"id": "j-9", "progress": 0.5},
			"retries":      float64(3),
		},
	})

	h := rec.ToHash()
	assert.Equal(t, "63.5", h["batteryLevel"])
	assert.Equal(t, "WORKING", h["state"])
	_, hasMemory := h["memoryUsage"]
	assert.False(t, hasMemory)

	back, err := FromHash(h)
	require.NoError(t, err)
	assert.Equal(t, rec, back)
}

func TestHash_EmptyMetadataOmitted(t *testing.T) {
	rec := mustRecord(t, Record{})
	h := rec.ToHash()
	_, ok := h["metadata"]
	assert.False(t, ok)

	back, err := FromHash(h)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, back.Metadata)
}

func TestFromHash_Invalid(t *testing.T) {
	good := mustRecord(t, Record{}).ToHash()

	bad := map[string]string{}
	for k, v := range good {
		bad[k] = v
	}
	bad["batteryLevel"] = "full"
	_, err := FromHash(bad)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	bad["batteryLevel"] = "50"
	bad["metadata"] = "{not json"
	_, err = FromHash(bad)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = FromHash(map[string]string{"deviceId": "1"})
	assert.Error(t, err)
}
