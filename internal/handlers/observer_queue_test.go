package handlers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/handlers"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

// gatedObserver 在 gate 关闭前阻塞
type gatedObserver struct {
	gate chan struct{}

	mu    sync.Mutex
	calls []string
}

func (o *gatedObserver) ObserveState(ctx context.Context, _ *models.Device, rec *devicestate.Record) error {
	select {
	case <-o.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	o.mu.Lock()
	o.calls = append(o.calls, rec.DeviceID)
	o.mu.Unlock()
	return nil
}

func (o *gatedObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

type failingObserver struct{}

func (failingObserver) ObserveState(context.Context, *models.Device, *devicestate.Record) error {
	return errors.New("webhook returned 503")
}

func observedRecord(id string) (*models.Device, *devicestate.Record) {
	return &models.Device{Serial: "S-" + id}, &devicestate.Record{DeviceID: id, Serial: "S-" + id, State: devicestate.StateError}
}

func TestObserverQueue_DoesNotBlockCaller(t *testing.T) {
	slow := &gatedObserver{gate: make(chan struct{})}
	q := handlers.NewObserverQueue([]handlers.StateObserver{slow}, handlers.ObserverQueueOptions{Workers: 1}, nil)
	q.Start()

	start := time.Now()
	for _, id := range []string{"d1", "d2", "d3"} {
		dev, rec := observedRecord(id)
		require.NoError(t, q.ObserveState(context.Background(), dev, rec))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, slow.count())

	close(slow.gate)
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 3, slow.count())
	assert.Equal(t, int64(3), q.Stats()["delivered"])
}

func TestObserverQueue_Full(t *testing.T) {
	rec := &recordingObserver{}
	q := handlers.NewObserverQueue([]handlers.StateObserver{rec}, handlers.ObserverQueueOptions{Size: 1}, nil)

	dev, r := observedRecord("d1")
	require.NoError(t, q.ObserveState(context.Background(), dev, r))
	assert.ErrorIs(t, q.ObserveState(context.Background(), dev, r), handlers.ErrObserverQueueFull)

	require.NoError(t, q.Close(context.Background()))
	assert.Len(t, rec.calls, 1)
	assert.Equal(t, int64(1), q.Stats()["dropped"])
}

func TestObserverQueue_Close(t *testing.T) {
	tests := []struct {
		name      string
		observers []handlers.StateObserver
		wantStats map[string]int64
	}{
		{
			name:      "观察者失败不影响其它观察者",
			observers: []handlers.StateObserver{failingObserver{}, &recordingObserver{}},
			wantStats: map[string]int64{"queued": 1, "delivered": 1, "failed": 1, "dropped": 0, "pending": 0},
		},
		{
			name:      "无观察者",
			wantStats: map[string]int64{"queued": 1, "delivered": 0, "failed": 0, "dropped": 0, "pending": 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := handlers.NewObserverQueue(tt.observers, handlers.ObserverQueueOptions{}, nil)
			q.Start()
			dev, rec := observedRecord("d1")
			require.NoError(t, q.ObserveState(context.Background(), dev, rec))

			require.NoError(t, q.Close(context.Background()))
			require.NoError(t, q.Close(context.Background()))
			assert.Equal(t, tt.wantStats, q.Stats())
			assert.ErrorIs(t, q.ObserveState(context.Background(), dev, rec), handlers.ErrObserverQueueClosed)
		})
	}
}

func TestObserverQueue_CloseDeadline(t *testing.T) {
	slow := &gatedObserver{gate: make(chan struct{})}
	q := handlers.NewObserverQueue([]handlers.StateObserver{slow}, handlers.ObserverQueueOptions{Timeout: time.Minute}, nil)
	q.Start()
	dev, rec := observedRecord("d1")
	require.NoError(t, q.ObserveState(context.Background(), dev, rec))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)

	close(slow.gate)
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 1, slow.count())
}
