package health

import "sync/atomic"

// Readiness 启动阶段的就绪标记：存储初始化完成且 WebSocket 开始接受连接
type Readiness struct {
	storeReady     atomic.Bool
	transportReady atomic.Bool
}

// NewReadiness 创建就绪标记
func NewReadiness() *Readiness { return &Readiness{} }

func (r *Readiness) SetStoreReady(v bool)     { r.storeReady.Store(v) }
func (r *Readiness) SetTransportReady(v bool) { r.transportReady.Store(v) }

// Ready 各子系统均已就绪
func (r *Readiness) Ready() bool {
	return r.storeReady.Load() && r.transportReady.Load()
}
