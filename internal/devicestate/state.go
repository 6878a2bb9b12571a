package devicestate

import "fmt"

// ============================================================================
// 设备状态枚举
// ============================================================================

// State 设备运行状态
type State string

const (
	// 连接状态
	StateOnline       State = "ONLINE"
	StateOffline      State = "OFFLINE"
	StateConnecting   State = "CONNECTING"
	StateDisconnected State = "DISCONNECTED"

	// 活动状态
	StateIdle    State = "IDLE"
	StateBusy    State = "BUSY"
	StateWorking State = "WORKING"

	// 电源状态
	StateCharging        State = "CHARGING"
	StateBatteryLow      State = "BATTERY_LOW"
	StateBatteryCritical State = "BATTERY_CRITICAL"

	// 异常状态
	StateError       State = "ERROR"
	StateUnreachable State = "UNREACHABLE"
	StateMaintenance State = "MAINTENANCE"
)

// AllStates 全部 13 个状态，顺序固定（用于索引清理与统计）
var AllStates = []State{
	StateOnline,
	StateOffline,
	StateConnecting,
	StateDisconnected,
	StateIdle,
	StateBusy,
	StateWorking,
	StateCharging,
	StateBatteryLow,
	StateBatteryCritical,
	StateError,
	StateUnreachable,
	StateMaintenance,
}

// transitions 合法迁移表：静态数据，不做推导。
// 自迁移（如 IDLE→IDLE）不在表中即视为非法。
var transitions = map[State][]State{
	StateOffline:         {StateConnecting, StateOnline, StateError},
	StateConnecting:      {StateOnline, StateOffline, StateError},
	StateOnline:          {StateIdle, StateBusy, StateOffline, StateDisconnected, StateError},
	StateIdle:            {StateBusy, StateWorking, StateOffline, StateError},
	StateBusy:            {StateIdle, StateWorking, StateOffline, StateError},
	StateWorking:         {StateIdle, StateBusy, StateOffline, StateError},
	StateDisconnected:    {StateConnecting, StateOffline},
	StateCharging:        {StateOnline, StateIdle, StateBusy},
	StateBatteryLow:      {StateCharging, StateBatteryCritical, StateOffline},
	StateBatteryCritical: {StateCharging, StateOffline},
	StateError:           {StateOffline, StateMaintenance},
	StateUnreachable:     {StateOffline, StateConnecting},
	StateMaintenance:     {StateOffline},
}

// priorities 状态优先级（越大越紧急），用于排序与告警
var priorities = map[State]int{
	StateError:           100,
	StateUnreachable:     90,
	StateBatteryCritical: 80,
	StateBatteryLow:      70,
	StateMaintenance:     60,
	StateOffline:         50,
	StateDisconnected:    40,
	StateConnecting:      30,
	StateWorking:         20,
	StateBusy:            15,
	StateCharging:        10,
	StateIdle:            5,
	StateOnline:          0,
}

// Parse 解析状态字符串，大小写敏感
func Parse(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidState, s)
	}
	return st, nil
}

// Valid 是否为已知状态
func (s State) Valid() bool {
	_, ok := priorities[s]
	return ok
}

func (s State) String() string { return string(s) }

// IsOnline 仅 ONLINE 计入在线集合
func (s State) IsOnline() bool { return s == StateOnline }

// IsOffline OFFLINE 或 DISCONNECTED
func (s State) IsOffline() bool { return s == StateOffline || s == StateDisconnected }

// IsBusy BUSY 或 WORKING
func (s State) IsBusy() bool { return s == StateBusy || s == StateWorking }

// IsAvailable ONLINE 或 IDLE，可接受新任务
func (s State) IsAvailable() bool { return s == StateOnline || s == StateIdle }

// IsError ERROR 或 UNREACHABLE
func (s State) IsError() bool { return s == StateError || s == StateUnreachable }

// IsPowerRelated 电源相关状态
func (s State) IsPowerRelated() bool {
	return s == StateCharging || s == StateBatteryLow || s == StateBatteryCritical
}

// Priority 返回状态优先级，未知状态为 0
func (s State) Priority() int { return priorities[s] }

// CanTransitionTo 判断 s→target 是否在迁移表中
func (s State) CanTransitionTo(target State) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// AllowedTargets 返回 s 可迁移到的状态副本
func (s State) AllowedTargets() []State {
	out := make([]State, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// ValidateTransition 校验迁移；from 为空表示首次上报，任何合法状态均可接受
func ValidateTransition(from, to State) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidState, to)
	}
	if from == "" {
		return nil
	}
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// ============================================================================
// 状态定义汇总（供 API 返回）
// ============================================================================

// StateInfo 状态完整信息
type StateInfo struct {
	Name           string   `json:"name"`
	Category       string   `json:"category"`
	Priority       int      `json:"priority"`
	AllowedTargets []string `json:"allowed_targets"`
}

// Category 状态分类：connection / activity / power / fault
func (s State) Category() string {
	switch s {
	case StateOnline, StateOffline, StateConnecting, StateDisconnected:
		return "connection"
	case StateIdle, StateBusy, StateWorking:
		return "activity"
	case StateCharging, StateBatteryLow, StateBatteryCritical:
		return "power"
	case StateError, StateUnreachable, StateMaintenance:
		return "fault"
	default:
		return "unknown"
	}
}

// Info 获取状态的完整信息
func (s State) Info() StateInfo {
	targets := make([]string, 0, len(transitions[s]))
	for _, t := range transitions[s] {
		targets = append(targets, string(t))
	}
	return StateInfo{
		Name:           string(s),
		Category:       s.Category(),
		Priority:       s.Priority(),
		AllowedTargets: targets,
	}
}

// Definitions 返回所有状态定义
func Definitions() []StateInfo {
	out := make([]StateInfo, 0, len(AllStates))
	for _, s := range AllStates {
		out = append(out, s.Info())
	}
	return out
}
