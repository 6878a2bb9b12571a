package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "phonefarm-websocket", cfg.App.Name)
	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, "/ws", cfg.WebSocket.Path)
	assert.Equal(t, "general", cfg.Gateway.DefaultRoom)
	assert.Equal(t, "Anonymous", cfg.Gateway.DefaultUsername)
	assert.Equal(t, 1024, cfg.Gateway.ObserverQueueSize)
	assert.Equal(t, 10*time.Second, cfg.Gateway.ObserverTimeout)
	assert.Equal(t, 300*time.Second, cfg.DeviceState.TTL)
	assert.Equal(t, 300*time.Second, cfg.DeviceState.StaleAfter)
	assert.Equal(t, 256, cfg.WebSocket.SendQueueSize)
	assert.False(t, cfg.MQTT.Enable)
	assert.False(t, cfg.InfluxDB.Enable)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("IOT_HTTP_ADDR", ":9090")
	t.Setenv("IOT_DEVICESTATE_TTL", "120s")
	t.Setenv("IOT_DATABASE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 120*time.Second, cfg.DeviceState.TTL)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := []byte(`
websocket:
  path: /socket
gateway:
  defaultRoom: lobby
redis:
  addr: redis:6379
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/socket", cfg.WebSocket.Path)
	assert.Equal(t, "lobby", cfg.Gateway.DefaultRoom)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	// 未覆盖的键保持默认
	assert.Equal(t, "Anonymous", cfg.Gateway.DefaultUsername)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("非法驱动", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "sqlite"
		assert.Error(t, cfg.Validate())
	})

	t.Run("路径缺少斜杠", func(t *testing.T) {
		cfg := base()
		cfg.WebSocket.Path = "ws"
		assert.Error(t, cfg.Validate())
	})

	t.Run("启用MQTT但缺少broker", func(t *testing.T) {
		cfg := base()
		cfg.MQTT.Enable = true
		cfg.MQTT.Broker = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("启用InfluxDB但缺少bucket", func(t *testing.T) {
		cfg := base()
		cfg.InfluxDB.Enable = true
		cfg.InfluxDB.URL = "http://localhost:8086"
		assert.Error(t, cfg.Validate())
	})
}
