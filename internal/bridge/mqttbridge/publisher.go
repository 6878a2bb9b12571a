package mqttbridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/metrics"
	redisstore "github.com/taoyao-code/device-gateway/internal/storage/redis"
)

// MessagePublisher 发布能力，*Client 实现
type MessagePublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// PublisherOptions 发布配置
type PublisherOptions struct {
	TopicPrefix      string
	QoS              byte
	Retain           bool
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Publisher 状态变更发布方，实现 gateway.StatePublisher
type Publisher struct {
	pub     MessagePublisher
	opts    PublisherOptions
	breaker *Breaker
	logger  *zap.Logger
	metrics *metrics.AppMetrics
}

// NewPublisher 创建发布方
func NewPublisher(pub MessagePublisher, opts PublisherOptions, logger *zap.Logger, m *metrics.AppMetrics) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "phonefarm"
	}
	p := &Publisher{
		pub:     pub,
		opts:    opts,
		breaker: NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		logger:  logger.With(zap.String("component", "mqtt_bridge")),
		metrics: m,
	}
	p.breaker.OnStateChange(func(from, to BreakerState) {
		p.logger.Warn("mqtt publish breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})
	return p
}

// StateTopic {prefix}/devices/{deviceId}/state
func StateTopic(prefix, deviceID string) string {
	return strings.TrimSuffix(prefix, "/") + "/devices/" + deviceID + "/state"
}

// Breaker 发布熔断器
func (p *Publisher) Breaker() *Breaker { return p.breaker }

// PublishStateChange 发布一条状态变更；熔断期间直接失败
func (p *Publisher) PublishStateChange(ctx context.Context, ev redisstore.StateChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.count("error")
		return err
	}

	topic := StateTopic(p.opts.TopicPrefix, ev.DeviceID)
	err = p.breaker.Do(func() error {
		return p.pub.Publish(topic, p.opts.QoS, p.opts.Retain, payload)
	})
	if err != nil {
		p.count("error")
		return err
	}
	p.count("ok")
	p.logger.Debug("state change published", zap.String("topic", topic))
	return nil
}

func (p *Publisher) count(result string) {
	if p.metrics != nil {
		p.metrics.MQTTPublishTotal.WithLabelValues(result).Inc()
	}
}
