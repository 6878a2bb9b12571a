package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	WSAccepted        prometheus.Counter
	WSRejected        *prometheus.CounterVec // labels: reason=limit|rate|upgrade
	WSActive          prometheus.Gauge
	WSBytesReceived   prometheus.Counter
	MessagesTotal     *prometheus.CounterVec // labels: type, result=ok|invalid|unhandled|error|throttled
	MessageDuration   *prometheus.HistogramVec
	BroadcastTotal    *prometheus.CounterVec // labels: scope=all|room|user, result=sent|failed
	StateUpdatesTotal *prometheus.CounterVec // labels: state
	StateRejected     prometheus.Counter     // 非法状态迁移
	OnlineGauge       prometheus.Gauge       // 在线设备数
	AttentionGauge    prometheus.Gauge       // 需关注设备数
	IndexRepairsTotal prometheus.Counter     // 索引修复条目数
	AlertsTotal       *prometheus.CounterVec // labels: severity, result=sent|suppressed|failed
	TelemetryPoints   *prometheus.CounterVec // labels: result=ok|error
	MQTTPublishTotal  *prometheus.CounterVec // labels: result=ok|error
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		WSAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_accept_total",
			Help: "Total accepted WebSocket connections.",
		}),
		WSRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_reject_total",
			Help: "Rejected WebSocket connection attempts by reason.",
		}, []string{"reason"}),
		WSActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Current number of open WebSocket connections.",
		}),
		WSBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_bytes_received_total",
			Help: "Total bytes received over WebSocket.",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_messages_total",
			Help: "Inbound messages by type and result.",
		}, []string{"type", "result"}),
		MessageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_message_duration_seconds",
			Help:    "Inbound message handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		BroadcastTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_broadcast_total",
			Help: "Fan-out deliveries by scope and result.",
		}, []string{"scope", "result"}),
		StateUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_state_updates_total",
			Help: "Accepted device state writes by target state.",
		}, []string{"state"}),
		StateRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "device_state_rejected_total",
			Help: "Device state updates rejected by the transition table.",
		}),
		OnlineGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "device_online_count",
			Help: "Current number of online devices.",
		}),
		AttentionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "device_attention_count",
			Help: "Devices currently needing attention.",
		}),
		IndexRepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "device_state_index_repairs_total",
			Help: "Stale index members removed by the sweeper.",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_alerts_total",
			Help: "Device alerts by severity and result.",
		}, []string{"severity", "result"}),
		TelemetryPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_points_total",
			Help: "Telemetry points written to InfluxDB.",
		}, []string{"result"}),
		MQTTPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_publish_total",
			Help: "State changes published to MQTT.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.WSAccepted, m.WSRejected, m.WSActive, m.WSBytesReceived,
		m.MessagesTotal, m.MessageDuration, m.BroadcastTotal,
		m.StateUpdatesTotal, m.StateRejected, m.OnlineGauge, m.AttentionGauge,
		m.IndexRepairsTotal, m.AlertsTotal, m.TelemetryPoints, m.MQTTPublishTotal,
	)
	return m
}
