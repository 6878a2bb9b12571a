// Package alerting 设备告警：按策略评估状态记录，经 Redis 去重后推送到告警房间。
package alerting

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/device-gateway/internal/devicestate"
)

// 告警级别
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Policy 告警策略（YAML）
type Policy struct {
	Room           string            `yaml:"room"`
	Cooldown       time.Duration     `yaml:"cooldown"`
	MinHealthScore int               `yaml:"minHealthScore"`
	Severity       map[string]string `yaml:"severity"`
	Default        string            `yaml:"default"`
}

// DefaultPolicy 未配置策略文件时使用
func DefaultPolicy() Policy {
	return Policy{
		Room:           "alerts",
		Cooldown:       5 * time.Minute,
		MinHealthScore: 60,
		Severity: map[string]string{
			string(devicestate.StateError):           SeverityCritical,
			string(devicestate.StateUnreachable):     SeverityCritical,
			string(devicestate.StateBatteryCritical): SeverityCritical,
			string(devicestate.StateBatteryLow):      SeverityWarning,
		},
		Default: SeverityWarning,
	}
}

// LoadPolicy 读取策略文件，缺省字段回落到 DefaultPolicy
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read alert policy: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy 解析策略内容
func ParsePolicy(raw []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse alert policy: %w", err)
	}
	p.fillDefaults()
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p *Policy) fillDefaults() {
	def := DefaultPolicy()
	if p.Room == "" {
		p.Room = def.Room
	}
	if p.Cooldown <= 0 {
		p.Cooldown = def.Cooldown
	}
	if p.MinHealthScore == 0 {
		p.MinHealthScore = def.MinHealthScore
	}
	if p.Severity == nil {
		p.Severity = def.Severity
	}
	if p.Default == "" {
		p.Default = def.Default
	}
}

// Validate 校验状态名与级别取值
func (p Policy) Validate() error {
	if p.MinHealthScore < 0 || p.MinHealthScore > 100 {
		return fmt.Errorf("alert policy: minHealthScore must be within 0-100, got %d", p.MinHealthScore)
	}
	if !validSeverity(p.Default) {
		return fmt.Errorf("alert policy: invalid default severity %q", p.Default)
	}
	for st, sev := range p.Severity {
		if _, err := devicestate.Parse(st); err != nil {
			return fmt.Errorf("alert policy: unknown state %q", st)
		}
		if !validSeverity(sev) {
			return fmt.Errorf("alert policy: invalid severity %q for state %s", sev, st)
		}
	}
	return nil
}

func validSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Alert 一条待推送告警
type Alert struct {
	DeviceID    string   `json:"deviceId"`
	Serial      string   `json:"serial"`
	DisplayName string   `json:"displayName,omitempty"`
	State       string   `json:"state"`
	Severity    string   `json:"severity"`
	Reasons     []string `json:"reasons"`
	HealthScore int      `json:"healthScore"`
	Timestamp   string   `json:"timestamp"`
}

// Evaluate 判断记录是否触发告警。
// 需要关注或健康分低于阈值时触发；级别取状态映射，未映射取默认级别。
func (p Policy) Evaluate(rec *devicestate.Record) (Alert, bool) {
	if rec == nil {
		return Alert{}, false
	}
	score := rec.HealthScore()
	reasons := rec.AttentionReasons()
	if len(reasons) == 0 && score >= p.MinHealthScore {
		return Alert{}, false
	}
	if score < p.MinHealthScore {
		reasons = append(reasons, "low_health_score")
	}

	sev, ok := p.Severity[string(rec.State)]
	if !ok {
		sev = p.Default
	}
	return Alert{
		DeviceID:    rec.DeviceID,
		Serial:      rec.Serial,
		State:       string(rec.State),
		Severity:    sev,
		Reasons:     reasons,
		HealthScore: score,
		Timestamp:   rec.LastUpdated.UTC().Format(time.RFC3339Nano),
	}, true
}

// Fingerprint 去重键：设备 + 级别 + 原因集合
func (a Alert) Fingerprint() string {
	reasons := append([]string(nil), a.Reasons...)
	sort.Strings(reasons)
	return a.DeviceID + ":" + a.Severity + ":" + strings.Join(reasons, ",")
}
