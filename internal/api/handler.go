// Package api 只读 HTTP 查询接口：设备身份、设备状态与连接快照。
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/devicestate"
	"github.com/taoyao-code/device-gateway/internal/handlers"
	"github.com/taoyao-code/device-gateway/internal/session"
	"github.com/taoyao-code/device-gateway/internal/storage"
	"github.com/taoyao-code/device-gateway/internal/storage/models"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handler 只读API处理器
type Handler struct {
	devices    storage.DeviceRepo
	states     handlers.StateStore
	registry   *session.Registry
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewHandler 创建只读API处理器
func NewHandler(devices storage.DeviceRepo, states handlers.StateStore, reg *session.Registry, staleAfter time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if staleAfter <= 0 {
		staleAfter = 300 * time.Second
	}
	return &Handler{
		devices:    devices,
		states:     states,
		registry:   reg,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// DeviceDetail 单设备视图
type DeviceDetail struct {
	Device         *models.Device      `json:"device"`
	DisplayName    string              `json:"displayName"`
	State          *devicestate.Record `json:"state,omitempty"`
	HealthScore    *int                `json:"healthScore,omitempty"`
	NeedsAttention bool                `json:"needsAttention"`
	Reasons        []string            `json:"attentionReasons,omitempty"`
	IsStale        bool                `json:"isStale"`
}

// ListDevices 分页查询设备身份
// @Summary 查询设备列表
// @Param brand query string false "品牌过滤"
// @Param limit query int false "每页数量(默认100,最大1000)"
// @Param offset query int false "偏移量(默认0)"
// @Router /api/devices [get]
func (h *Handler) ListDevices(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	filter := storage.DeviceFilter{Brand: c.Query("brand"), Limit: limit, Offset: offset}

	ctx := c.Request.Context()
	list, err := h.devices.List(ctx, filter)
	if err != nil {
		h.fail(c, apperr.Internal("list devices", err))
		return
	}
	total, err := h.devices.Count(ctx, filter.Brand)
	if err != nil {
		h.fail(c, apperr.Internal("count devices", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"devices": list,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetDevice 按序列号查询身份与当前状态
// @Summary 查询设备详情
// @Param serial path string true "设备序列号"
// @Router /api/devices/{serial} [get]
func (h *Handler) GetDevice(c *gin.Context) {
	ctx := c.Request.Context()
	dev, err := h.devices.FindBySerial(ctx, c.Param("serial"))
	if errors.Is(err, storage.ErrDeviceNotFound) {
		h.fail(c, apperr.NotFound("Device not found"))
		return
	}
	if err != nil {
		h.fail(c, apperr.Internal("find device", err))
		return
	}

	detail := DeviceDetail{Device: dev, DisplayName: dev.DisplayName()}
	recs, err := h.states.GetStates(ctx, []string{dev.StateID()})
	if err != nil {
		h.fail(c, apperr.Internal("load device state", err))
		return
	}
	if len(recs) == 1 {
		rec := recs[0]
		score := rec.HealthScore()
		detail.State = rec
		detail.HealthScore = &score
		detail.NeedsAttention = rec.NeedsAttention()
		detail.Reasons = rec.AttentionReasons()
		detail.IsStale = rec.IsStale(h.staleAfter, h.now().UTC())
	}
	c.JSON(http.StatusOK, detail)
}

// ListDeviceStates 状态查询，语义与 get_device_states 消息一致
// @Summary 查询设备状态
// @Param ids query string false "逗号分隔的设备ID"
// @Param state query string false "按状态过滤"
// @Param includeMetrics query bool false "是否返回指标(默认true)"
// @Router /api/device-states [get]
func (h *Handler) ListDeviceStates(c *gin.Context) {
	q := handlers.StateQuery{
		IDs:            splitCSV(c.Query("ids")),
		State:          c.Query("state"),
		IncludeMetrics: true,
	}
	if v := c.Query("includeMetrics"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(c, apperr.Validation("includeMetrics must be a boolean"))
			return
		}
		q.IncludeMetrics = b
	}

	res, err := handlers.QueryDeviceStates(c.Request.Context(), h.states, h.devices, q, h.staleAfter, h.now().UTC())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StateDefinitions 状态表：分类、优先级与合法迁移
// @Router /api/device-states/definitions [get]
func (h *Handler) StateDefinitions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"states": devicestate.Definitions()})
}

// ListConnections 当前连接快照
// @Param room query string false "房间过滤"
// @Router /api/connections [get]
func (h *Handler) ListConnections(c *gin.Context) {
	var conns []*session.Conn
	if room := c.Query("room"); room != "" {
		conns = h.registry.FindByRoom(room)
	} else {
		conns = h.registry.GetAll()
	}
	snaps := make([]session.Snapshot, 0, len(conns))
	for _, conn := range conns {
		snaps = append(snaps, conn.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{
		"connections": snaps,
		"total":       h.registry.Count(),
		"connected":   h.registry.ConnectedCount(),
	})
}

// fail 按错误分类写响应，内部错误只记录日志
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var ae *apperr.Error
	if errors.As(err, &ae) {
		status = ae.HTTPStatus()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("api request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	msg, code, errs := apperr.Public(err)
	body := gin.H{"error": msg, "code": code}
	if len(errs) > 0 {
		body["errors"] = errs
	}
	c.AbortWithStatusJSON(status, body)
}

func pageParams(c *gin.Context) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	if v := c.Query("limit"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n <= 0 {
			return 0, 0, apperr.Validation("limit must be a positive integer")
		}
		limit = min(n, maxPageSize)
	}
	if v := c.Query("offset"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n < 0 {
			return 0, 0, apperr.Validation("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
