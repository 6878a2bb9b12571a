package session

import (
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotConnected 连接未处于 connected 状态
var ErrNotConnected = errors.New("connection is not connected")

// Status 连接状态
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// 常用元数据键
const (
	MetaRoom            = "room"
	MetaUserID          = "userId"
	MetaUsername        = "username"
	MetaDeviceID        = "deviceId"
	MetaDeviceSerial    = "deviceSerial"
	MetaDeviceName      = "deviceName"
	MetaDeviceBrand     = "deviceBrand"
	MetaDeviceModel     = "deviceModel"
	MetaDeviceState     = "deviceState"
	MetaLastStateUpdate = "lastStateUpdate"
)

// Transport 底层传输能力：发送、关闭、远端地址
type Transport interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() string
}

// Conn 一条客户端连接
// 传输层连接由 Conn 转发调用，不归 Conn 所有。
type Conn struct {
	id        string
	handle    uint64
	transport Transport

	mu             sync.RWMutex
	status         Status
	connectedAt    time.Time
	disconnectedAt time.Time
	metadata       map[string]any
	closed         bool
}

// NewConn 在 accept 时创建连接，handle 为传输层分配的句柄
func NewConn(handle uint64, t Transport) *Conn {
	return &Conn{
		id:          uuid.NewString(),
		handle:      handle,
		transport:   t,
		status:      StatusConnecting,
		connectedAt: time.Now().UTC(),
		metadata:    map[string]any{},
	}
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) Handle() uint64     { return c.handle }
func (c *Conn) RemoteAddr() string { return c.transport.RemoteAddr() }

// Status 当前状态
func (c *Conn) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus 更新状态；置为 disconnected 时记录断开时间
func (c *Conn) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
	if s == StatusDisconnected && c.disconnectedAt.IsZero() {
		c.disconnectedAt = time.Now().UTC()
	}
}

// IsConnected 是否可发送
func (c *Conn) IsConnected() bool {
	return c.Status() == StatusConnected
}

// ConnectedAt 建立时间
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// DisconnectedAt 断开时间，未断开时 ok=false
func (c *Conn) DisconnectedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disconnectedAt, !c.disconnectedAt.IsZero()
}

// Metadata 返回元数据副本
func (c *Conn) Metadata() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.metadata)
}

// Meta 读取单个元数据
func (c *Conn) Meta(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// MetaString 读取字符串元数据，缺失或类型不符返回空串
func (c *Conn) MetaString(key string) string {
	v, _ := c.Meta(key)
	s, _ := v.(string)
	return s
}

// UpdateMetadata 合并元数据；值为 nil 的键被删除
func (c *Conn) UpdateMetadata(m map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range m {
		if v == nil {
			delete(c.metadata, k)
			continue
		}
		c.metadata[k] = v
	}
}

// Send 仅在 connected 状态下发送
func (c *Conn) Send(data []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.transport.Send(data)
}

// Close 关闭传输并置为 disconnected，可重复调用
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.status = StatusDisconnected
	if c.disconnectedAt.IsZero() {
		c.disconnectedAt = time.Now().UTC()
	}
	c.mu.Unlock()
	return c.transport.Close()
}

// Snapshot 连接概要（供 API 返回）
type Snapshot struct {
	ID          string         `json:"id"`
	RemoteAddr  string         `json:"remote_addr"`
	Status      Status         `json:"status"`
	ConnectedAt time.Time      `json:"connected_at"`
	Metadata    map[string]any `json:"metadata"`
}

// Snapshot 生成连接概要
func (c *Conn) Snapshot() Snapshot {
	return Snapshot{
		ID:          c.id,
		RemoteAddr:  c.RemoteAddr(),
		Status:      c.Status(),
		ConnectedAt: c.connectedAt,
		Metadata:    c.Metadata(),
	}
}
