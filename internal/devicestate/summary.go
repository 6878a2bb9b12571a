package devicestate

import (
	"cmp"
	"math"
	"slices"
)

// Summary 设备状态汇总
// OnlineCount 取自全局在线集合，与查询过滤条件无关。
type Summary struct {
	TotalDevices            int           `json:"totalDevices"`
	OnlineCount             int64         `json:"onlineCount"`
	StateBreakdown          map[State]int `json:"stateBreakdown"`
	DevicesNeedingAttention int           `json:"devicesNeedingAttention"`
	AverageHealthScore      int           `json:"averageHealthScore"`
}

// Summarize 统计一组记录；空集合平均健康分为 0
func Summarize(records []*Record, onlineCount int64) Summary {
	s := Summary{
		TotalDevices:   len(records),
		OnlineCount:    onlineCount,
		StateBreakdown: map[State]int{},
	}
	if len(records) == 0 {
		return s
	}
	total := 0
	for _, r := range records {
		s.StateBreakdown[r.State]++
		if r.NeedsAttention() {
			s.DevicesNeedingAttention++
		}
		total += r.HealthScore()
	}
	s.AverageHealthScore = int(math.Round(float64(total) / float64(len(records))))
	return s
}

// SortByPriority 按状态优先级降序，同优先级按 DeviceID 升序
func SortByPriority(records []*Record) {
	slices.SortStableFunc(records, func(a, b *Record) int {
		if c := cmp.Compare(b.State.Priority(), a.State.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.DeviceID, b.DeviceID)
	})
}
