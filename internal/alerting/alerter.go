package alerting

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/metrics"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

// AlertEvent 告警广播帧中的 data.type
const AlertEvent = "device_alert"

// ErrNoRecipients 告警房间内没有连接
var ErrNoRecipients = errors.New("alert room has no recipients")

// Notifier 告警的额外投递通道（如 webhook）
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Alerter 状态写入后的告警评估，实现 handlers.StateObserver
type Alerter struct {
	policy      Policy
	dedup       *Deduper
	broadcaster *outbound.Broadcaster
	notifiers   []Notifier
	logger      *zap.Logger
	metrics     *metrics.AppMetrics
}

// NewAlerter 创建告警器；dedup 为 nil 时不去重
func NewAlerter(p Policy, dedup *Deduper, b *outbound.Broadcaster, logger *zap.Logger, m *metrics.AppMetrics, notifiers ...Notifier) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{
		policy:      p,
		dedup:       dedup,
		broadcaster: b,
		notifiers:   notifiers,
		logger:      logger.With(zap.String("component", "alerting")),
		metrics:     m,
	}
}

// Policy 当前策略
func (a *Alerter) Policy() Policy { return a.policy }

type alertPayload struct {
	Type string `json:"type"`
	Alert
}

// AlertFrame 告警房间收到的广播帧
func AlertFrame(al Alert) wire.Frame {
	return wire.NewFrame(wire.TypeBroadcast, alertPayload{Type: AlertEvent, Alert: al}, "")
}

// ObserveState 评估记录；冷却期内重复告警被抑制
func (a *Alerter) ObserveState(ctx context.Context, dev *models.Device, rec *devicestate.Record) error {
	al, ok := a.policy.Evaluate(rec)
	if !ok {
		return nil
	}
	if dev != nil {
		al.DisplayName = dev.DisplayName()
	}

	fp := al.Fingerprint()
	if a.dedup != nil {
		dup, err := a.dedup.IsDuplicate(ctx, fp)
		if err != nil {
			a.count(al.Severity, "failed")
			return err
		}
		if dup {
			a.count(al.Severity, "suppressed")
			return nil
		}
	}

	delivered := 0
	if a.broadcaster != nil {
		delivered = a.broadcaster.BroadcastToRoom(a.policy.Room, AlertFrame(al), "")
	}
	var errs []error
	for _, n := range a.notifiers {
		if err := n.Notify(ctx, al); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		// 未送达任何接收方，释放去重标记以便下次重试
		if a.dedup != nil {
			if err := a.dedup.Delete(ctx, fp); err != nil {
				a.logger.Warn("release alert dedup key failed", zap.String("fingerprint", fp), zap.Error(err))
			}
		}
		a.count(al.Severity, "failed")
		errs = append(errs, ErrNoRecipients)
		return errors.Join(errs...)
	}

	a.count(al.Severity, "sent")
	a.logger.Info("device alert raised",
		zap.String("device_id", al.DeviceID),
		zap.String("state", al.State),
		zap.String("severity", al.Severity),
		zap.Strings("reasons", al.Reasons),
		zap.Int("health_score", al.HealthScore),
		zap.Int("recipients", delivered))
	return errors.Join(errs...)
}

func (a *Alerter) count(severity, result string) {
	if a.metrics != nil {
		a.metrics.AlertsTotal.WithLabelValues(severity, result).Inc()
	}
}
