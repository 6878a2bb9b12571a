package session_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/device-gateway/internal/session"
	"github.com/taoyao-code/device-gateway/internal/session/sessiontest"
)

func TestConn_SendRequiresConnected(t *testing.T) {
	tr := sessiontest.NewTransport("")
	c := session.NewConn(1, tr)

	assert.Equal(t, session.StatusConnecting, c.Status())
	assert.ErrorIs(t, c.Send([]byte("x")), session.ErrNotConnected)

	c.SetStatus(session.StatusConnected)
	require.NoError(t, c.Send([]byte("x")))
	assert.Len(t, tr.Frames(), 1)

	c.SetStatus(session.StatusError)
	assert.ErrorIs(t, c.Send([]byte("y")), session.ErrNotConnected)
}

func TestConn_Close(t *testing.T) {
	c, tr := sessiontest.NewConnected(nil)

	_, ok := c.DisconnectedAt()
	assert.False(t, ok)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, tr.Closed())
	assert.Equal(t, session.StatusDisconnected, c.Status())
	_, ok = c.DisconnectedAt()
	assert.True(t, ok)
	assert.ErrorIs(t, c.Send([]byte("x")), session.ErrNotConnected)
}

func TestConn_Metadata(t *testing.T) {
	c, _ := sessiontest.NewConnected(nil)

	c.UpdateMetadata(map[string]any{"room": "general", "userId": "u1"})
	c.UpdateMetadata(map[string]any{"username": "alice"})
	assert.Equal(t, "general", c.MetaString(session.MetaRoom))
	assert.Equal(t, "alice", c.MetaString(session.MetaUsername))

	// nil 删除键
	c.UpdateMetadata(map[string]any{"room": nil})
	_, ok := c.Meta(session.MetaRoom)
	assert.False(t, ok)

	// 返回副本
	m := c.Metadata()
	m["userId"] = "hacked"
	assert.Equal(t, "u1", c.MetaString(session.MetaUserID))

	c.UpdateMetadata(map[string]any{"deviceId": 42})
	assert.Equal(t, "", c.MetaString(session.MetaDeviceID))
}

func TestRegistry_Lookups(t *testing.T) {
	reg := session.NewRegistry()

	a, _ := sessiontest.NewConnected(reg)
	b, _ := sessiontest.NewConnected(reg)
	c, _ := sessiontest.NewConnected(reg)
	a.UpdateMetadata(map[string]any{"room": "lobby", "userId": "u1"})
	b.UpdateMetadata(map[string]any{"room": "lobby", "userId": "u2"})
	c.UpdateMetadata(map[string]any{"room": "other", "userId": "u1"})

	assert.Len(t, reg.FindByRoom("lobby"), 2)
	assert.Len(t, reg.FindByUserID("u1"), 2)
	assert.Empty(t, reg.FindByRoom("nobody"))

	got, ok := reg.FindByID(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = reg.FindByHandle(b.Handle())
	require.True(t, ok)
	assert.Same(t, b, got)

	// 未连接的不计入房间
	b.SetStatus(session.StatusError)
	assert.Len(t, reg.FindByRoom("lobby"), 1)
	assert.Equal(t, 3, reg.Count())
	assert.Equal(t, 2, reg.ConnectedCount())
	assert.Len(t, reg.GetAll(), 3)
}

func TestRegistry_Remove(t *testing.T) {
	reg := session.NewRegistry()
	c, tr := sessiontest.NewConnected(reg)

	removed, err := reg.Remove(c.ID())
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, tr.Closed())

	_, ok := reg.FindByID(c.ID())
	assert.False(t, ok)
	_, ok = reg.FindByHandle(c.Handle())
	assert.False(t, ok)

	removed, err = reg.Remove(c.ID())
	require.NoError(t, err)
	assert.False(t, removed)
}

type failingClose struct{ *sessiontest.Transport }

func (failingClose) Close() error { return errors.New("close failed") }

func TestRegistry_RemoveStillDeletesOnCloseError(t *testing.T) {
	reg := session.NewRegistry()
	c := session.NewConn(99, failingClose{sessiontest.NewTransport("")})
	reg.Add(c)

	removed, err := reg.Remove(c.ID())
	assert.True(t, removed)
	assert.Error(t, err)
	assert.Zero(t, reg.Count())
}

func TestRegistry_Concurrent(t *testing.T) {
	reg := session.NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _ := sessiontest.NewConnected(reg)
			c.UpdateMetadata(map[string]any{"room": "r"})
			_ = reg.FindByRoom("r")
			_, _ = reg.Remove(c.ID())
		}()
	}
	wg.Wait()
	assert.Zero(t, reg.Count())
}
