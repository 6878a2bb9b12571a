package mqttbridge

import (
	"errors"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常放行
	BreakerOpen                         // 熔断，直接拒绝
	BreakerHalfOpen                     // 试探放行
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen 熔断期内拒绝发布
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight 半开状态已有试探请求
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// Breaker 发布路径的熔断器：连续失败 threshold 次后熔断 cooldown，
// 之后放行单个试探请求，成功 closeAfter 次恢复。
type Breaker struct {
	mu         sync.Mutex
	state      BreakerState
	failures   int
	probeOK    int
	probing    bool
	openedAt   time.Time
	trips      int64
	threshold  int
	cooldown   time.Duration
	closeAfter int
	now        func() time.Time
	onChange   func(from, to BreakerState)
}

// NewBreaker 创建熔断器
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold:  threshold,
		cooldown:   cooldown,
		closeAfter: 2,
		now:        time.Now,
	}
}

// OnStateChange 状态切换回调，在锁外同步调用
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Do 受保护地执行 fn
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	var from, to BreakerState
	changed := false
	defer func() {
		cb := b.onChange
		b.mu.Unlock()
		if changed && cb != nil {
			cb(from, to)
		}
	}()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		from, to, changed = b.state, BreakerHalfOpen, true
		b.state = BreakerHalfOpen
		b.probeOK = 0
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrProbeInFlight
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case BreakerClosed:
		if err == nil {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.probing = false
		if err != nil {
			b.trip()
			break
		}
		b.probeOK++
		if b.probeOK >= b.closeAfter {
			b.state = BreakerClosed
			b.failures = 0
		}
	}
	to := b.state
	cb := b.onChange
	b.mu.Unlock()

	if from != to && cb != nil {
		cb(from, to)
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.trips++
}

// State 当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats 熔断器统计
type BreakerStats struct {
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	Trips    int64     `json:"trips"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// Stats 统计快照
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{State: b.state.String(), Failures: b.failures, Trips: b.trips, OpenedAt: b.openedAt}
}
