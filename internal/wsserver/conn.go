package wsserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("websocket connection closed")
	// ErrSendQueueFull 发送队列已满，帧被丢弃
	ErrSendQueueFull = errors.New("websocket send queue full")
)

// Conn 单条 WebSocket 连接：独立的读循环与写循环。
// 读循环按到达顺序逐条回调，同一连接的消息串行处理。
type Conn struct {
	s      *Server
	ws     *websocket.Conn
	id     uint64
	remote string

	sendC     chan []byte
	doneC     chan struct{}
	closeOnce sync.Once
}

func newConn(s *Server, ws *websocket.Conn, remote string) *Conn {
	size := s.cfg.SendQueueSize
	if size <= 0 {
		size = 256
	}
	return &Conn{
		s:      s,
		ws:     ws,
		id:     s.nextConnID.Add(1),
		remote: remote,
		sendC:  make(chan []byte, size),
		doneC:  make(chan struct{}),
	}
}

// ID 连接句柄（单进程唯一递增）
func (c *Conn) ID() uint64 { return c.id }

// RemoteAddr 远端地址
func (c *Conn) RemoteAddr() string { return c.remote }

// Send 入队一帧文本消息；队列满时立即失败，不阻塞调用方
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.doneC:
		return ErrConnClosed
	default:
	}
	dup := make([]byte, len(data))
	copy(dup, data)
	select {
	case c.sendC <- dup:
		return nil
	case <-c.doneC:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

// Close 发送关闭帧并断开，可重复调用
func (c *Conn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) closeWith(code int, text string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.doneC)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		err = c.ws.Close()
	})
	return err
}

// Done 连接关闭通知
func (c *Conn) Done() <-chan struct{} { return c.doneC }

// run 阻塞直至连接结束
func (c *Conn) run(ctx context.Context) {
	doneW := make(chan struct{})
	go func() {
		defer close(doneW)
		c.writeLoop()
	}()

	err := c.readLoop(ctx)
	if err != nil {
		c.s.events.OnError(c.id, err)
	}
	_ = c.Close()
	<-doneW
}

func (c *Conn) readLoop(ctx context.Context) error {
	cfg := c.s.cfg
	if cfg.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(cfg.MaxMessageBytes)
	}
	pongWait := cfg.PongTimeout
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.doneC:
				return nil
			default:
			}
			if errors.Is(err, websocket.ErrReadLimit) ||
				websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.s.logger.Warn("websocket read error",
					zap.Uint64("conn", c.id),
					zap.String("remote", c.remote),
					zap.Error(err))
				return err
			}
			c.s.logger.Debug("websocket closed", zap.Uint64("conn", c.id), zap.Error(err))
			return nil
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if c.s.onRecvBytes != nil {
			c.s.onRecvBytes(len(data))
		}
		c.s.events.OnMessage(ctx, c.id, data)
	}
}

func (c *Conn) writeLoop() {
	cfg := c.s.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.doneC:
			return
		case msg := <-c.sendC:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.s.logger.Debug("websocket write failed", zap.Uint64("conn", c.id), zap.Error(err))
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}
