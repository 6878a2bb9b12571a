package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/metrics"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/session"
)

const (
	resultOK        = "ok"
	resultInvalid   = "invalid"
	resultUnhandled = "unhandled"
	resultError     = "error"
)

// Dispatcher 解析、校验并分发一帧；每次失败只回写一帧错误
type Dispatcher struct {
	table     *Table
	validator *wire.Validator
	logger    *zap.Logger
	metrics   *metrics.AppMetrics
}

// NewDispatcher 创建分发器；logger/metrics 可为 nil
func NewDispatcher(table *Table, v *wire.Validator, logger *zap.Logger, m *metrics.AppMetrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if v == nil {
		v = wire.NewValidator()
	}
	return &Dispatcher{table: table, validator: v, logger: logger, metrics: m}
}

// Dispatch 处理一条原始消息。返回值仅供调用方记录，错误帧已回写给连接。
func (d *Dispatcher) Dispatch(ctx context.Context, conn *session.Conn, raw []byte) error {
	start := time.Now()

	msg, err := d.validator.Parse(raw)
	if err != nil {
		appErr := toValidationError(err)
		d.observe("unknown", resultInvalid, start)
		d.logger.Debug("message rejected",
			zap.String("conn_id", conn.ID()),
			zap.Strings("errors", appErr.Errors),
			zap.String("error", appErr.Message))
		d.reply(conn, appErr)
		return appErr
	}

	h, ok := d.table.Lookup(msg.Type)
	if !ok {
		appErr := apperr.MessageHandling("No handler registered for message type: "+msg.Type.String(), nil)
		d.observe(msg.Type.String(), resultUnhandled, start)
		d.logger.Warn("no handler for message type",
			zap.String("conn_id", conn.ID()),
			zap.String("type", msg.Type.String()))
		d.reply(conn, appErr)
		return appErr
	}

	if err := d.invoke(ctx, h, msg, conn); err != nil {
		d.observe(msg.Type.String(), resultError, start)
		fields := []zap.Field{
			zap.String("conn_id", conn.ID()),
			zap.String("type", msg.Type.String()),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		}
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Operational() {
			d.logger.Info("message handling failed", fields...)
		} else {
			d.logger.Error("message handling failed", fields...)
		}
		d.reply(conn, err)
		return err
	}

	d.observe(msg.Type.String(), resultOK, start)
	return nil
}

// invoke 调用处理器并把 panic 转换为内部错误
func (d *Dispatcher) invoke(ctx context.Context, h Handler, msg *wire.Message, conn *session.Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				zap.String("type", msg.Type.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = apperr.Internal("handler panic", fmt.Errorf("%v", r))
		}
	}()
	return h.Handle(ctx, msg, conn)
}

func (d *Dispatcher) reply(conn *session.Conn, err error) {
	if sendErr := outbound.SendError(conn, err); sendErr != nil && !outbound.IsNotConnected(sendErr) {
		d.logger.Warn("send error frame failed", zap.String("conn_id", conn.ID()), zap.Error(sendErr))
	}
}

func (d *Dispatcher) observe(msgType, result string, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.MessagesTotal.WithLabelValues(msgType, result).Inc()
	if result == resultOK || result == resultError {
		d.metrics.MessageDuration.WithLabelValues(msgType).Observe(time.Since(start).Seconds())
	}
}

func toValidationError(err error) *apperr.Error {
	if errors.Is(err, wire.ErrInvalidJSON) {
		return apperr.Validation(wire.ErrInvalidJSON.Error(), wire.ErrInvalidJSON.Error())
	}
	var verr *wire.ValidationError
	if errors.As(err, &verr) {
		return apperr.Validation(verr.Error(), verr.Errors...)
	}
	return apperr.Validation(err.Error())
}
