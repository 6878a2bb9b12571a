package handlers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

var (
	// ErrObserverQueueFull 队列已满，本次通知被丢弃
	ErrObserverQueueFull = errors.New("observer queue full")
	// ErrObserverQueueClosed 队列已关闭
	ErrObserverQueueClosed = errors.New("observer queue closed")
)

// ObserverQueueOptions 队列参数
type ObserverQueueOptions struct {
	Size    int           // 缓冲长度，默认 1024
	Workers int           // 投递协程数，默认 2
	Timeout time.Duration // 单个观察者单次投递期限，默认 10s
}

type observation struct {
	dev *models.Device
	rec *devicestate.Record
}

// ObserverQueue 把状态观察者（告警、时序写入）的投递移出连接读协程。
// 入队不阻塞；队列满时丢弃并返回 ErrObserverQueueFull。
type ObserverQueue struct {
	observers []StateObserver
	logger    *zap.Logger
	opts      ObserverQueueOptions

	mu     sync.RWMutex
	closed bool
	ch     chan observation

	startOnce sync.Once
	wg        sync.WaitGroup

	statsQueued    atomic.Int64
	statsDelivered atomic.Int64
	statsFailed    atomic.Int64
	statsDropped   atomic.Int64
}

var _ StateObserver = (*ObserverQueue)(nil)

// NewObserverQueue 创建队列，需调用 Start 启动投递
func NewObserverQueue(observers []StateObserver, opts ObserverQueueOptions, logger *zap.Logger) *ObserverQueue {
	if opts.Size <= 0 {
		opts.Size = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObserverQueue{
		observers: observers,
		logger:    logger,
		opts:      opts,
		ch:        make(chan observation, opts.Size),
	}
}

// Start 启动投递协程，重复调用无效
func (q *ObserverQueue) Start() {
	q.startOnce.Do(func() {
		q.logger.Info("observer queue started",
			zap.Int("observers", len(q.observers)),
			zap.Int("size", q.opts.Size),
			zap.Int("workers", q.opts.Workers))
		for i := 0; i < q.opts.Workers; i++ {
			q.wg.Add(1)
			go q.work()
		}
	})
}

// ObserveState 入队；调用方的 ctx 不传递给观察者
func (q *ObserverQueue) ObserveState(_ context.Context, dev *models.Device, rec *devicestate.Record) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrObserverQueueClosed
	}
	select {
	case q.ch <- observation{dev: dev, rec: rec}:
		q.statsQueued.Add(1)
		return nil
	default:
		q.statsDropped.Add(1)
		return ErrObserverQueueFull
	}
}

// Close 停止入队并等待已入队的通知投递完成，ctx 到期时返回
func (q *ObserverQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.Start()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("observer queue stopped", zap.Any("stats", q.Stats()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ObserverQueue) work() {
	defer q.wg.Done()
	for o := range q.ch {
		q.deliver(o)
	}
}

func (q *ObserverQueue) deliver(o observation) {
	for _, ob := range q.observers {
		ctx, cancel := context.WithTimeout(context.Background(), q.opts.Timeout)
		err := ob.ObserveState(ctx, o.dev, o.rec)
		cancel()
		if err != nil {
			q.statsFailed.Add(1)
			q.logger.Warn("state observer failed",
				zap.String("device_id", o.rec.DeviceID),
				zap.Error(err))
			continue
		}
		q.statsDelivered.Add(1)
	}
}

// Stats 统计信息
func (q *ObserverQueue) Stats() map[string]int64 {
	return map[string]int64{
		"queued":    q.statsQueued.Load(),
		"delivered": q.statsDelivered.Load(),
		"failed":    q.statsFailed.Load(),
		"dropped":   q.statsDropped.Load(),
		"pending":   int64(len(q.ch)),
	}
}
