// Package sessiontest 提供测试用的内存传输实现。
package sessiontest

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/taoyao-code/device-gateway/internal/session"
)

// ErrClosed 向已关闭的传输发送
var ErrClosed = errors.New("transport closed")

var nextHandle atomic.Uint64

// Transport 记录所有发送帧的内存传输
type Transport struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failWith error
	addr     string
}

// NewTransport 创建内存传输
func NewTransport(addr string) *Transport {
	if addr == "" {
		addr = "127.0.0.1:50000"
	}
	return &Transport{addr: addr}
}

func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWith != nil {
		return t.failWith
	}
	if t.closed {
		return ErrClosed
	}
	t.frames = append(t.frames, append([]byte(nil), data...))
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) RemoteAddr() string { return t.addr }

// FailWith 之后的发送均返回 err
func (t *Transport) FailWith(err error) {
	t.mu.Lock()
	t.failWith = err
	t.mu.Unlock()
}

// Closed 是否已关闭
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Frames 已发送的原始帧
func (t *Transport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.frames))
	copy(out, t.frames)
	return out
}

// Decoded 已发送帧按 JSON 解码
func (t *Transport) Decoded() []map[string]any {
	var out []map[string]any
	for _, f := range t.Frames() {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Last 最后一帧（解码），无帧时返回 nil
func (t *Transport) Last() map[string]any {
	d := t.Decoded()
	if len(d) == 0 {
		return nil
	}
	return d[len(d)-1]
}

// Reset 清空已记录的帧
func (t *Transport) Reset() {
	t.mu.Lock()
	t.frames = nil
	t.mu.Unlock()
}

// NewConnected 创建已连接的 Conn 并注册到 reg（reg 可为 nil）
func NewConnected(reg *session.Registry) (*session.Conn, *Transport) {
	tr := NewTransport("")
	c := session.NewConn(nextHandle.Add(1), tr)
	c.SetStatus(session.StatusConnected)
	if reg != nil {
		reg.Add(c)
	}
	return c, tr
}
