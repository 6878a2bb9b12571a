// Package telemetry 把设备状态写入 InfluxDB 时序库。
//
// 写入为非阻塞批量模式：ObserveState 只把点放入缓冲，
// 由客户端按 batchSize / flushInterval 异步提交，失败通过错误通道回报。
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/config"
	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/metrics"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

// Measurement 设备状态时序表名
const Measurement = "device_state"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

var (
	// ErrDisabled 配置未启用
	ErrDisabled = errors.New("influxdb: disabled in configuration")
	// ErrConnectionFailed 初次连接失败
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	// ErrNotConnected 已关闭
	ErrNotConnected = errors.New("influxdb: not connected")
)

// PointWriter 非阻塞写入能力（api.WriteAPI 的子集）
type PointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Writer 状态时序写入器，实现 handlers.StateObserver
type Writer struct {
	client  influxdb2.Client
	points  PointWriter
	logger  *zap.Logger
	metrics *metrics.AppMetrics

	mu        sync.RWMutex
	connected bool
}

// NewWriter 包装已有写入器（测试或自定义客户端）
func NewWriter(w PointWriter, logger *zap.Logger, m *metrics.AppMetrics) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		points:    w,
		logger:    logger.With(zap.String("component", "telemetry")),
		metrics:   m,
		connected: true,
	}
}

// Connect 建立 InfluxDB 连接并探活
func Connect(cfg config.InfluxDBConfig, logger *zap.Logger, m *metrics.AppMetrics) (*Writer, error) {
	if !cfg.Enable {
		return nil, ErrDisabled
	}
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = time.Second
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(uint(flush.Milliseconds())))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	w := NewWriter(writeAPI, logger, m)
	w.client = client
	go w.drainErrors(writeAPI.Errors())
	return w, nil
}

func (w *Writer) drainErrors(errs <-chan error) {
	for err := range errs {
		w.logger.Warn("influxdb batch write failed", zap.Error(err))
		w.count("error")
	}
}

// BuildPoint 状态记录转时序点：标签为低基数维度，指标为字段
func BuildPoint(dev *models.Device, rec *devicestate.Record) *write.Point {
	tags := map[string]string{
		"device_id": rec.DeviceID,
		"serial":    rec.Serial,
		"state":     string(rec.State),
		"category":  rec.State.Category(),
	}
	if dev != nil {
		if dev.Brand != "" {
			tags["brand"] = dev.Brand
		}
		if dev.Model != "" {
			tags["model"] = dev.Model
		}
	}

	fields := map[string]any{
		"health_score":    int64(rec.HealthScore()),
		"needs_attention": rec.NeedsAttention(),
		"priority":        int64(rec.State.Priority()),
	}
	for name, v := range map[string]*float64{
		"battery_level": rec.BatteryLevel,
		"temperature":   rec.Temperature,
		"cpu_usage":     rec.CPUUsage,
		"memory_usage":  rec.MemoryUsage,
		"storage_usage": rec.StorageUsage,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	return write.NewPoint(Measurement, tags, fields, rec.LastUpdated)
}

// ObserveState 写入一条状态点；关闭后丢弃
func (w *Writer) ObserveState(_ context.Context, dev *models.Device, rec *devicestate.Record) error {
	if rec == nil {
		return nil
	}
	if !w.IsConnected() {
		w.count("error")
		return ErrNotConnected
	}
	w.points.WritePoint(BuildPoint(dev, rec))
	w.count("ok")
	return nil
}

// IsConnected 最近一次已知的连接状态
func (w *Writer) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// HealthCheck 主动探活；包装写入器时只看连接标记
func (w *Writer) HealthCheck(ctx context.Context) error {
	if !w.IsConnected() {
		return ErrNotConnected
	}
	if w.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := w.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return errors.New("influxdb health check failed: server not healthy")
	}
	return nil
}

// Close 刷新缓冲并关闭客户端，可重复调用
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.connected {
		w.mu.Unlock()
		return nil
	}
	w.connected = false
	w.mu.Unlock()

	w.points.Flush()
	if w.client != nil {
		w.client.Close()
	}
	return nil
}

func (w *Writer) count(result string) {
	if w.metrics != nil {
		w.metrics.TelemetryPoints.WithLabelValues(result).Inc()
	}
}
