package wsserver

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/device-gateway/internal/config"
	"github.com/taoyao-code/device-gateway/internal/session"
)

// Events 连接生命周期回调，由网关控制器实现。
// OnMessage 在连接自己的读协程中被串行调用。
type Events interface {
	OnOpen(handle uint64, t session.Transport)
	OnMessage(ctx context.Context, handle uint64, data []byte)
	OnClose(handle uint64)
	OnError(handle uint64, err error)
}

// 拒绝原因，对应 ws_reject_total 的 reason 标签
const (
	RejectLimit    = "limit"
	RejectRate     = "rate"
	RejectUpgrade  = "upgrade"
	RejectShutdown = "shutdown"
)

// Server WebSocket 网关：握手准入、连接表与优雅关闭
type Server struct {
	cfg      cfgpkg.WebSocketConfig
	events   Events
	logger   *zap.Logger
	upgrader websocket.Upgrader

	limiter     *ConnectionLimiter
	rateLimiter *RateLimiter

	nextConnID atomic.Uint64
	closing    atomic.Bool
	baseCtx    context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu    sync.Mutex
	conns map[uint64]*Conn

	// 可选指标回调
	onAccept    func()
	onReject    func(reason string)
	onRecvBytes func(n int)
}

// New 创建 WebSocket 网关
func New(cfg cfgpkg.WebSocketConfig, events Events, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         cfg,
		events:      events,
		logger:      logger,
		limiter:     NewConnectionLimiter(cfg.MaxConnections, cfg.AcceptTimeout),
		rateLimiter: NewRateLimiter(float64(cfg.AcceptRate), cfg.AcceptBurst),
		baseCtx:     ctx,
		cancel:      cancel,
		conns:       make(map[uint64]*Conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetMetricsCallbacks 设置指标回调
func (s *Server) SetMetricsCallbacks(onAccept func(), onReject func(string), onRecvBytes func(int)) {
	s.onAccept, s.onReject, s.onRecvBytes = onAccept, onReject, onRecvBytes
}

// Limiter 连接限流器（健康检查读取利用率）
func (s *Server) Limiter() *ConnectionLimiter { return s.limiter }

// Count 当前打开的连接数
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Closing 是否已开始关闭
func (s *Server) Closing() bool { return s.closing.Load() }

// allowedOrigins 为空时放行所有来源
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// ServeHTTP 处理握手：速率准入 → 并发许可 → 升级 → 启动读写循环
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		s.reject(RejectShutdown)
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.rateLimiter.Allow() {
		s.reject(RejectRate)
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}
	if err := s.limiter.Acquire(r.Context()); err != nil {
		s.reject(RejectLimit)
		s.logger.Warn("websocket connection rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.limiter.Release()
		s.reject(RejectUpgrade)
		s.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	c := newConn(s, ws, remoteAddr(r, ws))
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = c.closeWith(websocket.CloseGoingAway, "server shutting down")
		s.limiter.Release()
		s.reject(RejectShutdown)
		return
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	s.mu.Unlock()
	if s.onAccept != nil {
		s.onAccept()
	}

	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		defer func() {
			s.mu.Lock()
			delete(s.conns, c.id)
			s.mu.Unlock()
		}()

		s.events.OnOpen(c.id, c)
		c.run(s.baseCtx)
		s.events.OnClose(c.id)
	}()
}

func (s *Server) reject(reason string) {
	if s.onReject != nil {
		s.onReject(reason)
	}
}

func remoteAddr(r *http.Request, ws *websocket.Conn) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if addr := ws.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return r.RemoteAddr
}

// Shutdown 拒绝新握手，以 going-away 关闭全部连接并等待读写循环退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closing.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	open := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()
	for _, c := range open {
		_ = c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
