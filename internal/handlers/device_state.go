package handlers

import (
	"context"
	"errors"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/session"
	"github.com/taoyao-code/device-gateway/internal/storage"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

const msgDeviceNotRegistered = "Device not registered. Please send device info first."

// DeviceStateUpdateHandler 设备上报状态：校验迁移合法性后写入状态存储
type DeviceStateUpdateHandler struct {
	deps Deps
	log  *zap.Logger
}

func (h *DeviceStateUpdateHandler) MessageTypes() []wire.MessageType {
	return []wire.MessageType{wire.TypeDeviceStateUpdate}
}

func (h *DeviceStateUpdateHandler) Handle(ctx context.Context, msg *wire.Message, conn *session.Conn) error {
	var data wire.DeviceStateUpdateData
	if err := msg.Bind(&data); err != nil {
		return apperr.Validation("Invalid device state payload")
	}

	dev, err := h.deps.Devices.FindBySerial(ctx, data.Serial)
	if errors.Is(err, storage.ErrDeviceNotFound) {
		h.log.Warn("state update for unregistered device", zap.String("serial", data.Serial))
		return apperr.Validation(msgDeviceNotRegistered)
	}
	if err != nil {
		return apperr.Internal("lookup device", err)
	}

	target, err := devicestate.Parse(data.State)
	if err != nil {
		return apperr.Validation("Invalid device state: " + data.State)
	}

	meta := maps.Clone(data.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["connectionId"] = conn.ID()
	meta["updateSource"] = "device"

	now := h.deps.now()
	stateID := dev.StateID()
	rec, err := devicestate.NewRecord(devicestate.Record{
		DeviceID:     stateID,
		Serial:       dev.Serial,
		State:        target,
		BatteryLevel: data.BatteryLevel,
		Temperature:  data.Temperature,
		CPUUsage:     data.CPUUsage,
		MemoryUsage:  data.MemoryUsage,
		StorageUsage: data.StorageUsage,
		LastUpdated:  now,
		Metadata:     meta,
	})
	if err != nil {
		return apperr.Validation(err.Error())
	}

	err = h.deps.States.UpdateStateChecked(ctx, stateID, rec, func(prev *devicestate.Record) error {
		if prev == nil {
			return nil
		}
		return devicestate.ValidateTransition(prev.State, target)
	})
	var terr *devicestate.TransitionError
	if errors.As(err, &terr) {
		h.log.Warn("invalid state transition",
			zap.String("device_id", stateID),
			zap.String("from", string(terr.From)),
			zap.String("to", string(terr.To)))
		if h.deps.Metrics != nil {
			h.deps.Metrics.StateRejected.Inc()
		}
		return apperr.Validation(terr.Error())
	}
	if err != nil {
		return apperr.Internal("update device state", err)
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.StateUpdatesTotal.WithLabelValues(string(target)).Inc()
	}

	if err := h.deps.Devices.TouchLastSeen(ctx, dev.Serial, now); err != nil {
		h.log.Warn("touch last seen failed", zap.String("serial", dev.Serial), zap.Error(err))
	}

	conn.UpdateMetadata(map[string]any{
		session.MetaDeviceState:     string(target),
		session.MetaLastStateUpdate: now.Format(time.RFC3339Nano),
	})

	h.log.Info("device state updated",
		zap.String("device_id", stateID),
		zap.String("serial", dev.Serial),
		zap.String("state", string(target)),
		zap.Float64p("battery_level", data.BatteryLevel))

	if err := outbound.SendResponse(conn, wire.TypeDeviceStateUpdate, map[string]any{
		"deviceId":  stateID,
		"status":    "updated",
		"state":     string(target),
		"message":   "Device state updated successfully",
		"timestamp": now.Format(time.RFC3339Nano),
	}, msg.ClientID); err != nil {
		return err
	}

	h.afterWrite(ctx, dev, rec)
	return nil
}

// afterWrite 关注判定与旁路通知，不影响已发送的响应
func (h *DeviceStateUpdateHandler) afterWrite(ctx context.Context, dev *models.Device, rec *devicestate.Record) {
	if rec.NeedsAttention() {
		h.log.Warn("device needs attention",
			zap.String("device_id", rec.DeviceID),
			zap.String("serial", rec.Serial),
			zap.Int("health_score", rec.HealthScore()),
			zap.Strings("reasons", rec.AttentionReasons()))
	}
	for _, o := range h.deps.Observers {
		if err := o.ObserveState(ctx, dev, rec); err != nil {
			h.log.Warn("state observer failed", zap.String("device_id", rec.DeviceID), zap.Error(err))
		}
	}
}
