package handlers

import (
	"context"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/session"
	"github.com/taoyao-code/device-gateway/internal/storage"
)

// DeviceMetrics 设备指标与健康分
type DeviceMetrics struct {
	BatteryLevel *float64 `json:"batteryLevel"`
	Temperature  *float64 `json:"temperature"`
	CPUUsage     *float64 `json:"cpuUsage"`
	MemoryUsage  *float64 `json:"memoryUsage"`
	StorageUsage *float64 `json:"storageUsage"`
	HealthScore  int      `json:"healthScore"`
}

// DeviceView 状态记录与身份信息的合并视图
type DeviceView struct {
	DeviceID       string         `json:"deviceId"`
	Serial         string         `json:"serial"`
	State          string         `json:"state"`
	LastUpdated    string         `json:"lastUpdated"`
	IsStale        bool           `json:"isStale"`
	NeedsAttention bool           `json:"needsAttention"`
	Brand          string         `json:"brand,omitempty"`
	Model          string         `json:"model,omitempty"`
	DisplayName    string         `json:"displayName,omitempty"`
	Metrics        *DeviceMetrics `json:"metrics,omitempty"`
}

// DeviceStatesResult get_device_states 响应体
type DeviceStatesResult struct {
	Devices   []DeviceView        `json:"devices"`
	Summary   devicestate.Summary `json:"summary"`
	Timestamp string              `json:"timestamp"`
}

// StateQuery 查询条件：IDs 优先，其次 State，都为空时查询全部
type StateQuery struct {
	IDs            []string
	State          string
	IncludeMetrics bool
}

// QueryDeviceStates 执行查询并生成汇总；HTTP 接口复用
func QueryDeviceStates(ctx context.Context, states StateStore, devices storage.DeviceRepo, q StateQuery, staleAfter time.Duration, now time.Time) (*DeviceStatesResult, error) {
	var (
		records []*devicestate.Record
		err     error
	)
	switch {
	case len(q.IDs) > 0:
		records, err = states.GetStates(ctx, q.IDs)
	case q.State != "":
		st, perr := devicestate.Parse(q.State)
		if perr != nil {
			return nil, apperr.Validation("Invalid device state: " + q.State)
		}
		var ids []string
		ids, err = states.GetDevicesByState(ctx, st)
		if err == nil {
			records, err = states.GetStates(ctx, ids)
		}
		// 索引可能短暂滞后，以规范记录为准
		records = slices.DeleteFunc(records, func(r *devicestate.Record) bool { return r.State != st })
	default:
		records, err = states.GetAllStates(ctx)
	}
	if err != nil {
		return nil, apperr.Internal("load device states", err)
	}

	online, err := states.GetOnlineCount(ctx)
	if err != nil {
		return nil, apperr.Internal("count online devices", err)
	}

	devicestate.SortByPriority(records)
	views := make([]DeviceView, 0, len(records))
	for _, rec := range records {
		v := DeviceView{
			DeviceID:       rec.DeviceID,
			Serial:         rec.Serial,
			State:          string(rec.State),
			LastUpdated:    rec.LastUpdated.UTC().Format(time.RFC3339Nano),
			IsStale:        rec.IsStale(staleAfter, now),
			NeedsAttention: rec.NeedsAttention(),
		}
		if devices != nil {
			if id, perr := strconv.ParseInt(rec.DeviceID, 10, 64); perr == nil {
				if dev, derr := devices.FindByID(ctx, id); derr == nil {
					v.Brand = dev.Brand
					v.Model = dev.Model
					v.DisplayName = dev.DisplayName()
				}
			}
		}
		if q.IncludeMetrics {
			v.Metrics = &DeviceMetrics{
				BatteryLevel: rec.BatteryLevel,
				Temperature:  rec.Temperature,
				CPUUsage:     rec.CPUUsage,
				MemoryUsage:  rec.MemoryUsage,
				StorageUsage: rec.StorageUsage,
				HealthScore:  rec.HealthScore(),
			}
		}
		views = append(views, v)
	}

	return &DeviceStatesResult{
		Devices:   views,
		Summary:   devicestate.Summarize(records, online),
		Timestamp: now.Format(time.RFC3339Nano),
	}, nil
}

// GetDeviceStatesHandler 状态查询
type GetDeviceStatesHandler struct {
	deps Deps
	log  *zap.Logger
}

func (h *GetDeviceStatesHandler) MessageTypes() []wire.MessageType {
	return []wire.MessageType{wire.TypeGetDeviceStates}
}

func (h *GetDeviceStatesHandler) Handle(ctx context.Context, msg *wire.Message, conn *session.Conn) error {
	var data wire.GetDeviceStatesData
	if err := msg.Bind(&data); err != nil {
		return apperr.Validation("Invalid device states query")
	}

	res, err := QueryDeviceStates(ctx, h.deps.States, h.deps.Devices, StateQuery{
		IDs:            data.DeviceIDs,
		State:          data.State,
		IncludeMetrics: data.WantMetrics(),
	}, h.deps.StaleAfter, h.deps.now())
	if err != nil {
		return err
	}
	if h.deps.Metrics != nil && len(data.DeviceIDs) == 0 && data.State == "" {
		h.deps.Metrics.AttentionGauge.Set(float64(res.Summary.DevicesNeedingAttention))
	}

	h.log.Info("device states retrieved",
		zap.String("conn_id", conn.ID()),
		zap.Int("total", res.Summary.TotalDevices),
		zap.Strings("requested_ids", data.DeviceIDs),
		zap.String("requested_state", data.State))

	return outbound.SendResponse(conn, wire.TypeGetDeviceStates, res, msg.ClientID)
}
