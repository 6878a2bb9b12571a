package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/devicestate"
)

const (
	stateKeyPrefix   = "device:state:"     // 规范记录（Hash）
	onlineSetKey     = "devices:online"    // 在线集合（Set），只含 ONLINE
	stateIndexPrefix = "devices:by-state:" // 按状态索引（Set）

	// StateChangesChannel 状态变更通知频道
	StateChangesChannel = "device:state:changes"

	// DefaultStateTTL 记录默认存活时间
	DefaultStateTTL = 300 * time.Second

	lockStripes = 64
	scanBatch   = 100
)

var (
	// ErrStateNotFound 设备从未上报或记录已过期
	ErrStateNotFound = errors.New("device state not found")
	// ErrAlreadySubscribed 同一个 StateStore 只允许一个订阅
	ErrAlreadySubscribed = errors.New("state change subscription already active")
)

// 索引成员与规范记录不一致时移除，检查与删除在 Redis 内原子完成
var pruneIndexScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'state')
if st ~= ARGV[1] then
  return redis.call('SREM', KEYS[2], ARGV[2])
end
return 0
`)

// StateChange 状态变更事件
type StateChange struct {
	DeviceID  string              `json:"deviceId"`
	State     devicestate.State   `json:"state"`
	Record    *devicestate.Record `json:"record,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// StateStore 设备状态存储
//
// 同一进程内对同一设备的写入按设备串行（分段锁），
// 规范记录、在线集合与状态索引在一个 MULTI/EXEC 中更新。
// 跨进程的残留索引由 ReconcileIndexes 周期清理。
type StateStore struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration

	locks [lockStripes]sync.Mutex

	subMu   sync.Mutex
	sub     *redis.PubSub
	subDone chan struct{}
}

// NewStateStore 创建状态存储；ttl<=0 使用默认 300s
func NewStateStore(client *Client, logger *zap.Logger, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateStore{client: client, logger: logger, ttl: ttl}
}

// TTL 返回记录默认存活时间
func (s *StateStore) TTL() time.Duration { return s.ttl }

func stateKey(deviceID string) string { return stateKeyPrefix + deviceID }

func indexKey(st devicestate.State) string { return stateIndexPrefix + string(st) }

func (s *StateStore) lockFor(deviceID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return &s.locks[h.Sum32()%lockStripes]
}

// UpdateState 写入完整记录、重置 TTL、维护在线集合与状态索引，并发布变更
func (s *StateStore) UpdateState(ctx context.Context, deviceID string, rec *devicestate.Record) error {
	return s.UpdateStateChecked(ctx, deviceID, rec, nil)
}

// UpdateStateChecked 在设备写锁内读取旧记录并执行 check，check 返回错误时不写入。
// prev 为 nil 表示设备没有历史记录。
func (s *StateStore) UpdateStateChecked(ctx context.Context, deviceID string, rec *devicestate.Record, check func(prev *devicestate.Record) error) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", devicestate.ErrInvalidRecord)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.DeviceID != deviceID {
		return fmt.Errorf("%w: record device id %q does not match %q", devicestate.ErrInvalidRecord, rec.DeviceID, deviceID)
	}

	mu := s.lockFor(deviceID)
	mu.Lock()
	defer mu.Unlock()

	if check != nil {
		prev, err := s.GetState(ctx, deviceID)
		if err != nil && !errors.Is(err, ErrStateNotFound) {
			return err
		}
		if err := check(prev); err != nil {
			return err
		}
	}
	return s.write(ctx, rec, s.ttl)
}

func (s *StateStore) write(ctx context.Context, rec *devicestate.Record, ttl time.Duration) error {
	id := rec.DeviceID
	key := stateKey(id)

	fields := make(map[string]interface{}, 10)
	for k, v := range rec.ToHash() {
		fields[k] = v
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)
		if rec.State.IsOnline() {
			pipe.SAdd(ctx, onlineSetKey, id)
		} else {
			pipe.SRem(ctx, onlineSetKey, id)
		}
		for _, st := range devicestate.AllStates {
			pipe.SRem(ctx, indexKey(st), id)
		}
		pipe.SAdd(ctx, indexKey(rec.State), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write device state %s: %w", id, err)
	}

	s.publish(ctx, rec)
	return nil
}

// publish 通知失败只记录日志，不影响写入结果
func (s *StateStore) publish(ctx context.Context, rec *devicestate.Record) {
	payload, err := json.Marshal(StateChange{
		DeviceID:  rec.DeviceID,
		State:     rec.State,
		Record:    rec,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("marshal state change failed", zap.String("device_id", rec.DeviceID), zap.Error(err))
		return
	}
	if err := s.client.Publish(ctx, StateChangesChannel, payload).Err(); err != nil {
		s.logger.Warn("publish state change failed", zap.String("device_id", rec.DeviceID), zap.Error(err))
	}
}

// GetState 读取设备记录；不存在返回 ErrStateNotFound
func (s *StateStore) GetState(ctx context.Context, deviceID string) (*devicestate.Record, error) {
	h, err := s.client.HGetAll(ctx, stateKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get device state %s: %w", deviceID, err)
	}
	if len(h) == 0 {
		return nil, ErrStateNotFound
	}
	rec, err := devicestate.FromHash(h)
	if err != nil {
		return nil, fmt.Errorf("decode device state %s: %w", deviceID, err)
	}
	return rec, nil
}

// GetAllStates 扫描全部记录，解析失败的条目跳过并记录警告
func (s *StateStore) GetAllStates(ctx context.Context) ([]*devicestate.Record, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, stateKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan device states: %w", err)
	}
	return s.loadKeys(ctx, keys)
}

// GetStates 批量读取，不存在的设备跳过
func (s *StateStore) GetStates(ctx context.Context, deviceIDs []string) ([]*devicestate.Record, error) {
	keys := make([]string, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		keys = append(keys, stateKey(id))
	}
	return s.loadKeys(ctx, keys)
}

func (s *StateStore) loadKeys(ctx context.Context, keys []string) ([]*devicestate.Record, error) {
	out := make([]*devicestate.Record, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load device states: %w", err)
	}

	for i, cmd := range cmds {
		h, err := cmd.Result()
		if err != nil || len(h) == 0 {
			continue
		}
		rec, err := devicestate.FromHash(h)
		if err != nil {
			s.logger.Warn("skip unparseable device state", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetDevicesByState 通过状态索引查询设备ID（已排序）
func (s *StateStore) GetDevicesByState(ctx context.Context, st devicestate.State) ([]string, error) {
	ids, err := s.client.SMembers(ctx, indexKey(st)).Result()
	if err != nil {
		return nil, fmt.Errorf("get devices by state %s: %w", st, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// RemoveState 删除规范记录并清理在线集合与索引
func (s *StateStore) RemoveState(ctx context.Context, deviceID string) error {
	mu := s.lockFor(deviceID)
	mu.Lock()
	defer mu.Unlock()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, st := range devicestate.AllStates {
			pipe.SRem(ctx, indexKey(st), deviceID)
		}
		pipe.SRem(ctx, onlineSetKey, deviceID)
		pipe.Del(ctx, stateKey(deviceID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove device state %s: %w", deviceID, err)
	}
	return nil
}

// SetOnline 置为 ONLINE；已有记录保留指标，否则以 deviceID 作为序列号生成最小记录。
// ttl>0 时使用自定义存活时间。
func (s *StateStore) SetOnline(ctx context.Context, deviceID string, ttl time.Duration) (*devicestate.Record, error) {
	mu := s.lockFor(deviceID)
	mu.Lock()
	defer mu.Unlock()

	online := devicestate.StateOnline
	var next *devicestate.Record
	prev, err := s.GetState(ctx, deviceID)
	switch {
	case err == nil:
		next, err = prev.WithUpdates(devicestate.Update{State: &online})
	case errors.Is(err, ErrStateNotFound):
		next, err = devicestate.NewRecord(devicestate.Record{DeviceID: deviceID, Serial: deviceID, State: online})
	}
	if err != nil {
		return nil, err
	}

	if ttl <= 0 {
		ttl = s.ttl
	}
	if err := s.write(ctx, next, ttl); err != nil {
		return nil, err
	}
	return next, nil
}

// SetOffline 置为 OFFLINE；设备无记录时不做任何事
func (s *StateStore) SetOffline(ctx context.Context, deviceID string) error {
	mu := s.lockFor(deviceID)
	mu.Lock()
	defer mu.Unlock()

	prev, err := s.GetState(ctx, deviceID)
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	offline := devicestate.StateOffline
	next, err := prev.WithUpdates(devicestate.Update{State: &offline})
	if err != nil {
		return err
	}
	return s.write(ctx, next, s.ttl)
}

// UpdateStateFields 读取-合并-写回
func (s *StateStore) UpdateStateFields(ctx context.Context, deviceID string, u devicestate.Update) (*devicestate.Record, error) {
	mu := s.lockFor(deviceID)
	mu.Lock()
	defer mu.Unlock()

	prev, err := s.GetState(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	next, err := prev.WithUpdates(u)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, next, s.ttl); err != nil {
		return nil, err
	}
	return next, nil
}

// IsOnline 设备是否在在线集合中
func (s *StateStore) IsOnline(ctx context.Context, deviceID string) (bool, error) {
	return s.client.SIsMember(ctx, onlineSetKey, deviceID).Result()
}

// GetOnlineCount 在线设备数
func (s *StateStore) GetOnlineCount(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, onlineSetKey).Result()
}

// GetOnlineDeviceIDs 在线设备ID（已排序）
func (s *StateStore) GetOnlineDeviceIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// ReconcileIndexes 清理状态索引与在线集合中的残留成员，返回移除数量。
// 记录过期（TTL）后索引不会自动清理，需要周期调用。
func (s *StateStore) ReconcileIndexes(ctx context.Context) (int, error) {
	removed := 0
	prune := func(set string, want devicestate.State) error {
		ids, err := s.client.SMembers(ctx, set).Result()
		if err != nil {
			return err
		}
		for _, id := range ids {
			n, err := pruneIndexScript.Run(ctx, s.client, []string{stateKey(id), set}, string(want), id).Int()
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	}

	for _, st := range devicestate.AllStates {
		if err := prune(indexKey(st), st); err != nil {
			return removed, fmt.Errorf("reconcile index %s: %w", st, err)
		}
	}
	if err := prune(onlineSetKey, devicestate.StateOnline); err != nil {
		return removed, fmt.Errorf("reconcile online set: %w", err)
	}
	return removed, nil
}

// SubscribeToStateChanges 订阅状态变更；回调 panic 或事件解析失败只记录日志
func (s *StateStore) SubscribeToStateChanges(ctx context.Context, cb func(StateChange)) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.sub != nil {
		return ErrAlreadySubscribed
	}

	sub := s.client.Subscribe(ctx, StateChangesChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", StateChangesChannel, err)
	}

	done := make(chan struct{})
	s.sub = sub
	s.subDone = done
	go s.consume(sub.Channel(), cb, done)

	s.logger.Info("subscribed to state changes", zap.String("channel", StateChangesChannel))
	return nil
}

// UnsubscribeFromStateChanges 取消订阅并等待分发协程退出
func (s *StateStore) UnsubscribeFromStateChanges() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.sub == nil {
		return nil
	}
	err := s.sub.Close()
	<-s.subDone
	s.sub = nil
	s.subDone = nil
	return err
}

func (s *StateStore) consume(ch <-chan *redis.Message, cb func(StateChange), done chan struct{}) {
	defer close(done)
	for msg := range ch {
		var ev StateChange
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.logger.Warn("malformed state change event", zap.String("payload", msg.Payload), zap.Error(err))
			continue
		}
		s.dispatch(cb, ev)
	}
}

func (s *StateStore) dispatch(cb func(StateChange), ev StateChange) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state change callback panicked",
				zap.String("device_id", ev.DeviceID),
				zap.Any("panic", r))
		}
	}()
	cb(ev)
}
