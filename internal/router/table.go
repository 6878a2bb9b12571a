// Package router 入站消息的校验、路由与错误回写。
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/session"
)

// Handler 处理一种或多种消息类型
type Handler interface {
	MessageTypes() []wire.MessageType
	Handle(ctx context.Context, msg *wire.Message, conn *session.Conn) error
}

// Table 消息类型到处理器的登记表，每种类型最多一个处理器
type Table struct {
	mu       sync.RWMutex
	handlers map[wire.MessageType]Handler
}

// NewTable 创建空登记表
func NewTable() *Table {
	return &Table{handlers: make(map[wire.MessageType]Handler)}
}

// Register 登记处理器声明的全部类型；任一类型已占用则整体失败
func (t *Table) Register(h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	types := h.MessageTypes()
	for _, mt := range types {
		if _, dup := t.handlers[mt]; dup {
			return apperr.Configuration(fmt.Sprintf("Handler for message type '%s' already registered", mt))
		}
	}
	for _, mt := range types {
		t.handlers[mt] = h
	}
	return nil
}

// Lookup 查找处理器
func (t *Table) Lookup(mt wire.MessageType) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[mt]
	return h, ok
}

// Types 已登记类型（排序）
func (t *Table) Types() []wire.MessageType {
	t.mu.RLock()
	out := make([]wire.MessageType, 0, len(t.handlers))
	for mt := range t.handlers {
		out = append(out, mt)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
