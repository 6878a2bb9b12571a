package devicestate

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState 未知状态字符串
	ErrInvalidState = errors.New("invalid device state")
	// ErrInvalidRecord 记录字段越界或缺失
	ErrInvalidRecord = errors.New("invalid device state record")
)

// TransitionError 非法状态迁移
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("Invalid state transition from %s to %s", e.From, e.To)
}
