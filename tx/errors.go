package tx

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalState = errors.New("tx: illegal state")
	ErrNotSupported = errors.New("tx: not supported")
	ErrRollback     = errors.New("tx: rolled back")
	ErrSystem       = errors.New("tx: system error")
)

// IllegalStateError 当前状态不允许该操作
type IllegalStateError struct {
	Op     string
	Status Status
	Reason string
}

func (e *IllegalStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tx: %s not allowed in status %s: %s", e.Op, e.Status, e.Reason)
	}
	return fmt.Sprintf("tx: %s not allowed in status %s", e.Op, e.Status)
}

func (e *IllegalStateError) Is(target error) bool { return target == ErrIllegalState }

// NotSupportedError 例如在已有事务的上下文中再次 Begin
type NotSupportedError struct {
	Op     string
	Reason string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("tx: %s not supported: %s", e.Op, e.Reason)
}

func (e *NotSupportedError) Is(target error) bool { return target == ErrNotSupported }

// RollbackError 提交没有成功完成，事务以回滚或不确定状态结束。
//
// Cause 是第一个失败原因；Detail 汇集提交过程中的全部失败。
type RollbackError struct {
	Xid    Xid
	Status Status
	Cause  error
	Detail error
}

func (e *RollbackError) Error() string {
	msg := fmt.Sprintf("tx: transaction %s ended with %s", e.Xid, e.Status)
	if e.Detail != nil {
		return msg + ": " + e.Detail.Error()
	}
	return msg
}

func (e *RollbackError) Is(target error) bool { return target == ErrRollback }
func (e *RollbackError) Unwrap() error        { return e.Cause }

// SystemError 资源在登记、挂起、恢复或回滚时失败
type SystemError struct {
	Op     string
	Cause  error
	Detail error
}

func (e *SystemError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("tx: %s failed: %v", e.Op, e.Detail)
	}
	return fmt.Sprintf("tx: %s failed: %v", e.Op, e.Cause)
}

func (e *SystemError) Is(target error) bool { return target == ErrSystem }
func (e *SystemError) Unwrap() error        { return e.Cause }
