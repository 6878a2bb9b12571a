package session

import "sync"

// Registry 进程内连接表：连接ID为主键，同时维护传输句柄到连接ID的映射。
// 单次调用内一致，跨调用不保证。
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Conn
	byHandle map[uint64]string
}

// NewRegistry 创建连接表
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Conn),
		byHandle: make(map[uint64]string),
	}
}

// Add 注册连接；同 ID 重复注册会覆盖
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.byID[c.ID()] = c
	r.byHandle[c.Handle()] = c.ID()
	r.mu.Unlock()
}

// Remove 先关闭传输再删除；连接不存在返回 false
func (r *Registry) Remove(id string) (bool, error) {
	r.mu.RLock()
	c, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}

	err := c.Close()

	r.mu.Lock()
	delete(r.byID, id)
	if r.byHandle[c.Handle()] == id {
		delete(r.byHandle, c.Handle())
	}
	r.mu.Unlock()
	return true, err
}

// FindByID 按连接ID查找
func (r *Registry) FindByID(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// FindByHandle 按传输句柄查找
func (r *Registry) FindByHandle(h uint64) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHandle[h]
	if !ok {
		return nil, false
	}
	c, ok := r.byID[id]
	return c, ok
}

// FindByRoom 房间内已连接的连接
func (r *Registry) FindByRoom(room string) []*Conn {
	return r.filter(func(c *Conn) bool {
		return c.IsConnected() && c.MetaString(MetaRoom) == room
	})
}

// FindByUserID 用户的全部已连接连接
func (r *Registry) FindByUserID(userID string) []*Conn {
	return r.filter(func(c *Conn) bool {
		return c.IsConnected() && c.MetaString(MetaUserID) == userID
	})
}

// FindByDeviceID 绑定到设备的已连接连接
func (r *Registry) FindByDeviceID(deviceID string) []*Conn {
	return r.filter(func(c *Conn) bool {
		return c.IsConnected() && c.MetaString(MetaDeviceID) == deviceID
	})
}

// GetAll 全部连接快照
func (r *Registry) GetAll() []*Conn {
	return r.filter(func(*Conn) bool { return true })
}

// Count 连接总数（含未完成握手与已断开未移除的）
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ConnectedCount 已连接数量
func (r *Registry) ConnectedCount() int {
	return len(r.filter(func(c *Conn) bool { return c.IsConnected() }))
}

func (r *Registry) filter(keep func(*Conn) bool) []*Conn {
	r.mu.RLock()
	snapshot := make([]*Conn, 0, len(r.byID))
	for _, c := range r.byID {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	out := snapshot[:0]
	for _, c := range snapshot {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
