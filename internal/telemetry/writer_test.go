package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/config"
	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/metrics"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (r *recordingWriter) WritePoint(p *write.Point) {
	r.mu.Lock()
	r.points = append(r.points, p)
	r.mu.Unlock()
}

func (r *recordingWriter) Flush() {
	r.mu.Lock()
	r.flushes++
	r.mu.Unlock()
}

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func busyRecord(t *testing.T) *devicestate.Record {
	t.Helper()
	rec, err := devicestate.NewRecord(devicestate.Record{
		DeviceID:     "12",
		Serial:       "R58M",
		State:        devicestate.StateBusy,
		BatteryLevel: devicestate.Float(55),
		CPUUsage:     devicestate.Float(92),
		LastUpdated:  ts,
	})
	require.NoError(t, err)
	return rec
}

func TestBuildPoint(t *testing.T) {
	dev := &models.Device{Brand: "samsung", Model: "SM-G991B"}
	line := write.PointToLineProtocol(BuildPoint(dev, busyRecord(t)), time.Nanosecond)

	assert.True(t, strings.HasPrefix(line, Measurement+","), line)
	for _, want := range []string{
		"brand=samsung",
		"device_id=12",
		"model=SM-G991B",
		"serial=R58M",
		"state=BUSY",
		"battery_level=55",
		"cpu_usage=92",
		"health_score=94i",
		"needs_attention=true",
	} {
		assert.Contains(t, line, want)
	}
	assert.NotContains(t, line, "temperature", "缺失指标不写字段")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), " 1714564800000000000"), line)
}

func TestBuildPoint_WithoutDevice(t *testing.T) {
	line := write.PointToLineProtocol(BuildPoint(nil, busyRecord(t)), time.Nanosecond)
	assert.NotContains(t, line, "brand=")
	assert.Contains(t, line, "device_id=12")
}

func TestWriter_ObserveState(t *testing.T) {
	rw := &recordingWriter{}
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	w := NewWriter(rw, zap.NewNop(), m)
	ctx := context.Background()

	require.NoError(t, w.ObserveState(ctx, nil, busyRecord(t)))
	require.NoError(t, w.ObserveState(ctx, nil, nil))
	assert.Len(t, rw.points, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetryPoints.WithLabelValues("ok")))
	assert.NoError(t, w.HealthCheck(ctx))

	t.Run("关闭后拒绝写入", func(t *testing.T) {
		require.NoError(t, w.Close())
		require.NoError(t, w.Close())
		assert.Equal(t, 1, rw.flushes)

		assert.ErrorIs(t, w.ObserveState(ctx, nil, busyRecord(t)), ErrNotConnected)
		assert.ErrorIs(t, w.HealthCheck(ctx), ErrNotConnected)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetryPoints.WithLabelValues("error")))
	})
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Connect(config.InfluxDBConfig{Enable: true, URL: url, Bucket: "b"}, nil, nil)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestConnect_WritesBatches(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(b))
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := Connect(config.InfluxDBConfig{
		Enable:        true,
		URL:           srv.URL,
		Token:         "t",
		Org:           "phonefarm",
		Bucket:        "device_metrics",
		BatchSize:     10,
		FlushInterval: time.Hour,
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	require.NoError(t, w.ObserveState(context.Background(), nil, busyRecord(t)))
	require.NoError(t, w.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "device_id=12")
}
