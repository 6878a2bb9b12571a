// Package apperr 客户端可见的错误分类。
//
// 可操作错误（operational）的消息原样返回给客户端；
// 其它错误只在服务端记录，客户端统一收到 "Internal server error"。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误类别
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConnection
	KindConfiguration
	KindMessageHandling
)

// InternalMessage 内部错误对客户端的统一描述
const InternalMessage = "Internal server error"

// Error 带类别与错误码的应用错误
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Errors  []string // 仅校验错误携带逐字段明细
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Operational 是否可把 Message 暴露给客户端
func (e *Error) Operational() bool {
	return e.Kind != KindInternal && e.Kind != KindConfiguration
}

// HTTPStatus 对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindMessageHandling:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Validation 输入非法（400）
func Validation(message string, errs ...string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: message, Errors: errs}
}

// NotFound 引用的实体不存在（404）
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: message}
}

// Connection 传输层失败（503）
func Connection(message string, err error) *Error {
	return &Error{Kind: KindConnection, Code: "CONNECTION_ERROR", Message: message, Err: err}
}

// Configuration 启动期装配错误，不可按请求恢复
func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Code: "CONFIGURATION_ERROR", Message: message}
}

// MessageHandling 消息处理失败，消息可返回客户端
func MessageHandling(message string, err error) *Error {
	return &Error{Kind: KindMessageHandling, Code: "MESSAGE_HANDLING_ERROR", Message: message, Err: err}
}

// Internal 包装内部错误；message 仅记录在服务端
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: message, Err: err}
}

// Public 提取可返回客户端的消息、错误码与明细
func Public(err error) (message, code string, errs []string) {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Operational() {
			return ae.Message, ae.Code, ae.Errors
		}
		return InternalMessage, ae.Code, nil
	}
	return InternalMessage, "INTERNAL_ERROR", nil
}

// IsKind 判断 err 链中是否包含指定类别
func IsKind(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}
