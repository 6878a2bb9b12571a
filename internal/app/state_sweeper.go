package app

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/metrics"
)

// IndexStore 清理器使用的状态存储能力
type IndexStore interface {
	ReconcileIndexes(ctx context.Context) (int, error)
	GetOnlineCount(ctx context.Context) (int64, error)
	GetAllStates(ctx context.Context) ([]*devicestate.Record, error)
}

// StateIndexSweeper 周期清理状态索引与在线集合中的残留成员，
// 并刷新在线数、需关注数两个仪表。
type StateIndexSweeper struct {
	store    IndexStore
	logger   *zap.Logger
	metrics  *metrics.AppMetrics
	interval time.Duration

	statsRepaired atomic.Int64
	statsRuns     atomic.Int64
}

// NewStateIndexSweeper 创建清理器；interval<=0 时为 1 分钟
func NewStateIndexSweeper(store IndexStore, interval time.Duration, logger *zap.Logger, m *metrics.AppMetrics) *StateIndexSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateIndexSweeper{store: store, logger: logger, metrics: m, interval: interval}
}

// Start 阻塞运行直到 ctx 取消；启动时先执行一轮
func (s *StateIndexSweeper) Start(ctx context.Context) {
	s.logger.Info("state index sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("state index sweeper stopped",
				zap.Int64("total_repaired", s.statsRepaired.Load()))
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep 执行一轮清理与仪表刷新
func (s *StateIndexSweeper) Sweep(ctx context.Context) {
	s.statsRuns.Add(1)

	removed, err := s.store.ReconcileIndexes(ctx)
	if err != nil {
		s.logger.Error("reconcile state indexes failed", zap.Error(err))
	} else if removed > 0 {
		s.statsRepaired.Add(int64(removed))
		if s.metrics != nil {
			s.metrics.IndexRepairsTotal.Add(float64(removed))
		}
		s.logger.Info("stale index members removed",
			zap.Int("removed", removed),
			zap.Int64("total_repaired", s.statsRepaired.Load()))
	}

	if s.metrics == nil {
		return
	}
	if n, err := s.store.GetOnlineCount(ctx); err == nil {
		s.metrics.OnlineGauge.Set(float64(n))
	} else {
		s.logger.Warn("read online count failed", zap.Error(err))
	}
	records, err := s.store.GetAllStates(ctx)
	if err != nil {
		s.logger.Warn("read device states failed", zap.Error(err))
		return
	}
	attention := 0
	for _, r := range records {
		if r.NeedsAttention() {
			attention++
		}
	}
	s.metrics.AttentionGauge.Set(float64(attention))
}

// Stats 获取统计信息
func (s *StateIndexSweeper) Stats() map[string]any {
	return map[string]any{
		"total_repaired": s.statsRepaired.Load(),
		"runs":           s.statsRuns.Load(),
		"interval":       s.interval.String(),
	}
}
