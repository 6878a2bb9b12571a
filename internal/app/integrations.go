package app

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/alerting"
	"github.com/taoyao-code/device-gateway/internal/bridge/mqttbridge"
	cfgpkg "github.com/taoyao-code/device-gateway/internal/config"
	"github.com/taoyao-code/device-gateway/internal/gateway"
	"github.com/taoyao-code/device-gateway/internal/handlers"
	"github.com/taoyao-code/device-gateway/internal/metrics"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	redisstore "github.com/taoyao-code/device-gateway/internal/storage/redis"
	"github.com/taoyao-code/device-gateway/internal/telemetry"
)

// Integrations 可选的旁路集成：告警、时序写入、MQTT 桥接
type Integrations struct {
	Observers  []handlers.StateObserver
	Publishers []gateway.StatePublisher

	Alerter   *alerting.Alerter
	Telemetry *telemetry.Writer
	MQTT      *mqttbridge.Client
}

// Close 刷新并断开外部连接
func (i *Integrations) Close() {
	if i.Telemetry != nil {
		_ = i.Telemetry.Close()
	}
	if i.MQTT != nil {
		_ = i.MQTT.Close()
	}
}

// NewIntegrations 按配置装配集成。
// 告警策略错误直接返回；InfluxDB/MQTT 连接失败只记录并跳过，不阻止启动。
func NewIntegrations(cfg *cfgpkg.Config, rc *redisstore.Client, b *outbound.Broadcaster, instanceID string, log *zap.Logger, m *metrics.AppMetrics) (*Integrations, error) {
	out := &Integrations{}

	if cfg.Alerting.Enable {
		policy, err := alerting.LoadPolicy(cfg.Alerting.PolicyFile)
		if err != nil {
			return nil, err
		}
		var notifiers []alerting.Notifier
		if wh := cfg.Alerting.Webhook; wh.URL != "" {
			notifiers = append(notifiers, alerting.NewWebhookNotifier(wh.URL, wh.APIKey, wh.Secret, wh.Timeout))
		}
		dedup := alerting.NewDeduper(rc, log, policy.Cooldown)
		out.Alerter = alerting.NewAlerter(policy, dedup, b, log, m, notifiers...)
		out.Observers = append(out.Observers, out.Alerter)
		log.Info("alerting enabled",
			zap.String("room", policy.Room),
			zap.Duration("cooldown", policy.Cooldown),
			zap.Int("webhooks", len(notifiers)))
	}

	if cfg.InfluxDB.Enable {
		w, err := telemetry.Connect(cfg.InfluxDB, log, m)
		if err != nil {
			log.Warn("influxdb unavailable, telemetry disabled", zap.Error(err))
		} else {
			out.Telemetry = w
			out.Observers = append(out.Observers, w)
			log.Info("telemetry enabled", zap.String("bucket", cfg.InfluxDB.Bucket))
		}
	}

	if cfg.MQTT.Enable {
		mcfg := cfg.MQTT
		if mcfg.ClientID == "" {
			mcfg.ClientID = instanceID
		}
		client, err := mqttbridge.Connect(mcfg, log)
		if err != nil {
			log.Warn("mqtt unavailable, state bridge disabled", zap.Error(err))
		} else {
			out.MQTT = client
			out.Publishers = append(out.Publishers, mqttbridge.NewPublisher(client, mqttbridge.PublisherOptions{
				TopicPrefix: mcfg.TopicPrefix,
				QoS:         mcfg.QoS,
				Retain:      mcfg.Retain,
			}, log, m))
			log.Info("mqtt state bridge enabled",
				zap.String("broker", mcfg.Broker),
				zap.String("client_id", mcfg.ClientID))
		}
	}
	return out, nil
}
