package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/session"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

const msgDeviceInfoFailed = "Failed to process device information"

// DeviceInfoHandler 设备注册：按 serial 落库、绑定连接并置为 ONLINE
type DeviceInfoHandler struct {
	deps Deps
	log  *zap.Logger
}

func (h *DeviceInfoHandler) MessageTypes() []wire.MessageType {
	return []wire.MessageType{wire.TypeDeviceInfo}
}

func (h *DeviceInfoHandler) Handle(ctx context.Context, msg *wire.Message, conn *session.Conn) error {
	var data wire.DeviceInfoData
	if err := msg.Bind(&data); err != nil {
		return apperr.Validation("Invalid device info payload")
	}

	dev := &models.Device{
		ConnectionID:   conn.ID(),
		Serial:         data.Serial,
		IMEI:           models.OptionalString(data.IMEI),
		MACAddress:     models.OptionalString(data.MACAddress),
		WifiIPAddress:  models.OptionalString(data.WifiIPAddress),
		Brand:          data.Brand,
		Model:          data.Model,
		AndroidRelease: data.Release,
	}
	if data.SDKInt != nil {
		dev.AndroidSDKInt = *data.SDKInt
	}

	saved, err := h.deps.Devices.Upsert(ctx, dev)
	if err != nil {
		h.log.Error("device upsert failed",
			zap.String("conn_id", conn.ID()),
			zap.String("serial", data.Serial),
			zap.Error(err))
		return apperr.MessageHandling(msgDeviceInfoFailed, err)
	}

	stateID := saved.StateID()
	displayName := saved.DisplayName()
	conn.UpdateMetadata(map[string]any{
		session.MetaDeviceID:     stateID,
		session.MetaDeviceSerial: saved.Serial,
		session.MetaDeviceName:   displayName,
		session.MetaDeviceBrand:  saved.Brand,
		session.MetaDeviceModel:  saved.Model,
	})

	now := h.deps.now()
	rec, err := devicestate.Online(stateID, saved.Serial, map[string]any{
		"connectionId":   conn.ID(),
		"displayName":    displayName,
		"brand":          saved.Brand,
		"model":          saved.Model,
		"androidRelease": saved.AndroidRelease,
		"androidSdkInt":  saved.AndroidSDKInt,
		"updateSource":   "registration",
	}, now)
	if err == nil {
		err = h.deps.States.UpdateState(ctx, stateID, rec)
	}
	if err != nil {
		h.log.Error("set device online failed",
			zap.String("device_id", stateID),
			zap.String("serial", saved.Serial),
			zap.Error(err))
		return apperr.MessageHandling(msgDeviceInfoFailed, err)
	}
	conn.UpdateMetadata(map[string]any{
		session.MetaDeviceState:     string(rec.State),
		session.MetaLastStateUpdate: now.Format(time.RFC3339Nano),
	})

	h.log.Info("device registered",
		zap.String("conn_id", conn.ID()),
		zap.String("device_id", stateID),
		zap.String("serial", saved.Serial),
		zap.String("display_name", displayName))

	return outbound.SendResponse(conn, wire.TypeDeviceInfo, map[string]any{
		"deviceId":    stateID,
		"status":      "registered",
		"message":     "Device registered successfully",
		"displayName": displayName,
	}, msg.ClientID)
}
