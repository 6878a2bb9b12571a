package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/device-gateway/internal/config"
	redisstore "github.com/taoyao-code/device-gateway/internal/storage/redis"
)

func TestNewIntegrations(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = rdb.Close() })
	rc := redisstore.Wrap(rdb)
	_, appm := NewMetrics()

	t.Run("仅告警", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("room: ops\n"), 0o600))

		cfg := &cfgpkg.Config{Alerting: cfgpkg.AlertingConfig{Enable: true, PolicyFile: path}}
		in, err := NewIntegrations(cfg, rc, nil, "gw-1", zap.NewNop(), appm)
		require.NoError(t, err)
		defer in.Close()

		require.NotNil(t, in.Alerter)
		assert.Equal(t, "ops", in.Alerter.Policy().Room)
		assert.Len(t, in.Observers, 1)
		assert.Empty(t, in.Publishers)
	})

	t.Run("策略文件错误", func(t *testing.T) {
		cfg := &cfgpkg.Config{Alerting: cfgpkg.AlertingConfig{Enable: true, PolicyFile: filepath.Join(t.TempDir(), "missing.yaml")}}
		_, err := NewIntegrations(cfg, rc, nil, "gw-1", zap.NewNop(), appm)
		assert.Error(t, err)
	})

	t.Run("InfluxDB 不可用时跳过", func(t *testing.T) {
		cfg := &cfgpkg.Config{InfluxDB: cfgpkg.InfluxDBConfig{Enable: true, URL: "http://127.0.0.1:1", Bucket: "b"}}
		in, err := NewIntegrations(cfg, rc, nil, "gw-1", zap.NewNop(), appm)
		require.NoError(t, err)
		assert.Nil(t, in.Telemetry)
		assert.Empty(t, in.Observers)
	})

	t.Run("全部关闭", func(t *testing.T) {
		in, err := NewIntegrations(&cfgpkg.Config{}, rc, nil, "gw-1", zap.NewNop(), appm)
		require.NoError(t, err)
		assert.Empty(t, in.Observers)
		assert.Empty(t, in.Publishers)
		in.Close()
	})
}
