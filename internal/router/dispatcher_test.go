package router_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/router"
	"github.com/taoyao-code/device-gateway/internal/session"
	"github.com/taoyao-code/device-gateway/internal/session/sessiontest"
)

type stubHandler struct {
	types []wire.MessageType
	fn    func(ctx context.Context, msg *wire.Message, conn *session.Conn) error
	calls int
}

func (s *stubHandler) MessageTypes() []wire.MessageType { return s.types }

func (s *stubHandler) Handle(ctx context.Context, msg *wire.Message, conn *session.Conn) error {
	s.calls++
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, msg, conn)
}

func TestTable_Register(t *testing.T) {
	tbl := router.NewTable()
	require.NoError(t, tbl.Register(&stubHandler{types: []wire.MessageType{wire.TypeChat, wire.TypePing}}))

	err := tbl.Register(&stubHandler{types: []wire.MessageType{wire.TypeJoinRoom, wire.TypePing}})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	assert.Equal(t, "Handler for message type 'ping' already registered", err.Error())

	_, ok := tbl.Lookup(wire.TypeJoinRoom)
	assert.False(t, ok, "失败的登记不应部分生效")
	assert.Equal(t, []wire.MessageType{wire.TypeChat, wire.TypePing}, tbl.Types())
}

func errorData(t *testing.T, tr *sessiontest.Transport) map[string]any {
	t.Helper()
	frames := tr.Decoded()
	require.Len(t, frames, 1, "每次失败只回写一帧")
	require.Equal(t, "error", frames[0]["type"])
	return frames[0]["data"].(map[string]any)
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("非法JSON", func(t *testing.T) {
		d := router.NewDispatcher(router.NewTable(), nil, nil, nil)
		conn, tr := sessiontest.NewConnected(nil)
		err := d.Dispatch(ctx, conn, []byte("{oops"))
		require.Error(t, err)
		data := errorData(t, tr)
		assert.Equal(t, "Invalid JSON format", data["message"])
		assert.Equal(t, "VALIDATION_ERROR", data["code"])
	})

	t.Run("校验失败", func(t *testing.T) {
		d := router.NewDispatcher(router.NewTable(), nil, nil, nil)
		conn, tr := sessiontest.NewConnected(nil)
		_ = d.Dispatch(ctx, conn, []byte(`{"type":"join_room","data":{}}`))
		data := errorData(t, tr)
		assert.Equal(t, "Validation failed: data.room: Room name is required", data["message"])
		assert.Equal(t, []any{"data.room: Room name is required"}, data["errors"])
	})

	t.Run("未登记处理器", func(t *testing.T) {
		d := router.NewDispatcher(router.NewTable(), nil, nil, nil)
		conn, tr := sessiontest.NewConnected(nil)
		_ = d.Dispatch(ctx, conn, []byte(`{"type":"broadcast"}`))
		data := errorData(t, tr)
		assert.Equal(t, "No handler registered for message type: broadcast", data["message"])
		assert.Equal(t, "MESSAGE_HANDLING_ERROR", data["code"])
	})

	t.Run("处理成功不回写错误", func(t *testing.T) {
		tbl := router.NewTable()
		h := &stubHandler{types: []wire.MessageType{wire.TypeChat}, fn: func(_ context.Context, msg *wire.Message, _ *session.Conn) error {
			var d wire.ChatData
			require.NoError(t, msg.Bind(&d))
			assert.Equal(t, "hello", d.Content)
			return nil
		}}
		require.NoError(t, tbl.Register(h))
		d := router.NewDispatcher(tbl, nil, nil, nil)
		conn, tr := sessiontest.NewConnected(nil)

		require.NoError(t, d.Dispatch(ctx, conn, []byte(`{"type":"chat","data":{"content":"hello"}}`)))
		assert.Equal(t, 1, h.calls)
		assert.Empty(t, tr.Frames())
	})

	t.Run("可操作错误原样返回", func(t *testing.T) {
		tbl := router.NewTable()
		require.NoError(t, tbl.Register(&stubHandler{types: []wire.MessageType{wire.TypePing}, fn: func(context.Context, *wire.Message, *session.Conn) error {
			return apperr.NotFound("Device not found")
		}}))
		d := router.NewDispatcher(tbl, nil, nil, nil)
		conn, tr := sessiontest.NewConnected(nil)
		_ = d.Dispatch(ctx, conn, []byte(`{"type":"ping"}`))
		data := errorData(t, tr)
		assert.Equal(t, "Device not found", data["message"])
		assert.Equal(t, "NOT_FOUND", data["code"])
	})

	t.Run("内部错误隐藏", func(t *testing.T) {
		tbl := router.NewTable()
		require.NoError(t, tbl.Register(&stubHandler{types: []wire.MessageType{wire.TypePing}, fn: func(context.Context, *wire.Message, *session.Conn) error {
			return errors.New("dial tcp 10.0.0.1:6379: connection refused")
		}}))
		d := router.NewDispatcher(tbl, nil, nil, nil)
		conn, tr := sessiontest.NewConnected(nil)
		_ = d.Dispatch(ctx, conn, []byte(`{"type":"ping"}`))
		assert.Equal(t, apperr.InternalMessage, errorData(t, tr)["message"])
	})

	t.Run("处理器panic被恢复", func(t *testing.T) {
		tbl := router.NewTable()
		require.NoError(t, tbl.Register(&stubHandler{types: []wire.MessageType{wire.TypePing}, fn: func(context.Context, *wire.Message, *session.Conn) error {
			panic("boom")
		}}))
		d := router.NewDispatcher(tbl, nil, nil, nil)
		conn, tr := sessiontest.NewConnected(nil)
		err := d.Dispatch(ctx, conn, []byte(`{"type":"ping"}`))
		assert.True(t, apperr.IsKind(err, apperr.KindInternal))
		data := errorData(t, tr)
		assert.Equal(t, apperr.InternalMessage, data["message"])
		assert.Equal(t, "INTERNAL_ERROR", data["code"])
	})
}
