package outbound_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/metrics"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/session"
	"github.com/taoyao-code/device-gateway/internal/session/sessiontest"
)

func TestBroadcastToRoom(t *testing.T) {
	reg := session.NewRegistry()
	b := outbound.NewBroadcaster(reg, nil, metrics.NewAppMetrics(metrics.NewRegistry()))

	a, ta := sessiontest.NewConnected(reg)
	c, tc := sessiontest.NewConnected(reg)
	other, tOther := sessiontest.NewConnected(reg)
	a.UpdateMetadata(map[string]any{session.MetaRoom: "lab"})
	c.UpdateMetadata(map[string]any{session.MetaRoom: "lab"})
	other.UpdateMetadata(map[string]any{session.MetaRoom: "general"})

	t.Run("排除发送者", func(t *testing.T) {
		n := b.BroadcastToRoom("lab", wire.NewFrame(wire.TypeChat, map[string]any{"content": "hi"}, ""), a.ID())
		assert.Equal(t, 1, n)
		assert.Empty(t, ta.Frames())
		require.Len(t, tc.Frames(), 1)
		assert.Empty(t, tOther.Frames())
	})

	t.Run("单个接收方失败不影响其它", func(t *testing.T) {
		tc.Reset()
		ta.FailWith(errors.New("broken pipe"))
		n := b.BroadcastToRoom("lab", wire.NewFrame(wire.TypeChat, nil, ""), "")
		assert.Equal(t, 1, n)
		assert.Len(t, tc.Frames(), 1)
	})
}

func TestBroadcast_SkipsDisconnected(t *testing.T) {
	reg := session.NewRegistry()
	b := outbound.NewBroadcaster(reg, nil, nil)

	_, live := sessiontest.NewConnected(reg)
	gone, goneT := sessiontest.NewConnected(reg)
	gone.SetStatus(session.StatusDisconnected)

	assert.Equal(t, 1, b.Broadcast(wire.NewFrame(wire.TypeBroadcast, nil, ""), ""))
	assert.Len(t, live.Frames(), 1)
	assert.Empty(t, goneT.Frames())
}

func TestSendToUser(t *testing.T) {
	reg := session.NewRegistry()
	b := outbound.NewBroadcaster(reg, nil, nil)

	c1, t1 := sessiontest.NewConnected(reg)
	c2, t2 := sessiontest.NewConnected(reg)
	_, t3 := sessiontest.NewConnected(reg)
	c1.UpdateMetadata(map[string]any{session.MetaUserID: "u1"})
	c2.UpdateMetadata(map[string]any{session.MetaUserID: "u1"})

	assert.Equal(t, 2, b.SendToUser("u1", wire.NewFrame(wire.TypeChat, nil, "")))
	assert.Len(t, t1.Frames(), 1)
	assert.Len(t, t2.Frames(), 1)
	assert.Empty(t, t3.Frames())
	assert.Equal(t, 0, b.SendToUser("nobody", wire.NewFrame(wire.TypeChat, nil, "")))
}

func TestSendError(t *testing.T) {
	c, tr := sessiontest.NewConnected(nil)

	t.Run("校验错误携带明细", func(t *testing.T) {
		require.NoError(t, outbound.SendError(c, apperr.Validation("Validation failed: data.room: Room name is required", "data.room: Room name is required")))
		last := tr.Last()
		assert.Equal(t, "error", last["type"])
		data := last["data"].(map[string]any)
		assert.Equal(t, "VALIDATION_ERROR", data["code"])
		assert.Equal(t, []any{"data.room: Room name is required"}, data["errors"])
	})

	t.Run("内部错误隐藏细节", func(t *testing.T) {
		require.NoError(t, outbound.SendError(c, errors.New("redis: connection refused")))
		data := tr.Last()["data"].(map[string]any)
		assert.Equal(t, apperr.InternalMessage, data["message"])
		assert.Equal(t, "INTERNAL_ERROR", data["code"])
		assert.NotContains(t, data, "errors")
	})

	t.Run("已断开连接", func(t *testing.T) {
		c.SetStatus(session.StatusDisconnected)
		err := outbound.SendResponse(c, wire.TypePong, nil, "")
		assert.True(t, outbound.IsNotConnected(err))
		assert.True(t, apperr.IsKind(err, apperr.KindConnection))
	})
}
