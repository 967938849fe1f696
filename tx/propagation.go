package tx

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// TxFunc 在事务边界内执行的函数
type TxFunc func(ctx context.Context) error

// run 执行 fn，panic 转换为错误
func run(ctx context.Context, fn TxFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tx: panic in transactional function: %v", r)
		}
	}()
	return fn(ctx)
}

// ensureBound 没有槽位时绑定一个
func (m *Manager) ensureBound(ctx context.Context) context.Context {
	if Bound(ctx) {
		return ctx
	}
	return m.Bind(ctx)
}

// inNew 开始新事务执行 fn，成功则提交，失败则回滚
func (m *Manager) inNew(ctx context.Context, fn TxFunc) error {
	if err := m.Begin(ctx); err != nil {
		return err
	}
	if err := run(ctx, fn); err != nil {
		return multierr.Append(err, m.Rollback(ctx))
	}
	return m.Commit(ctx)
}

// Required 有当前事务时加入，否则开始新事务。
//
// 加入已有事务时 fn 失败只把事务标记为回滚，由外层决定结束方式。
//
//	err := tx.Required(ctx, manager, func(ctx context.Context) error {
//	    return repo.Save(ctx, order)
//	})
func Required(ctx context.Context, m *Manager, fn TxFunc) error {
	ctx = m.ensureBound(ctx)
	if m.Transaction(ctx) == nil {
		return m.inNew(ctx, fn)
	}
	if err := run(ctx, fn); err != nil {
		return multierr.Append(err, m.SetRollbackOnly(ctx))
	}
	return nil
}

// RequiresNew 总是开始新事务，调用方的事务在此期间挂起，结束后恢复
func RequiresNew(ctx context.Context, m *Manager, fn TxFunc) error {
	ctx = m.ensureBound(ctx)
	if m.Transaction(ctx) == nil {
		return m.inNew(ctx, fn)
	}
	suspended, err := m.Suspend(ctx)
	if err != nil {
		return err
	}
	err = m.inNew(ctx, fn)
	return multierr.Append(err, m.Resume(ctx, suspended))
}

// Mandatory 必须已有当前事务
func Mandatory(ctx context.Context, m *Manager, fn TxFunc) error {
	if m.Transaction(ctx) == nil {
		return &IllegalStateError{Op: "mandatory", Status: StatusNoTransaction, Reason: "no transaction is active"}
	}
	return Required(ctx, m, fn)
}

// NotSupported 在事务之外执行 fn，已有事务时先挂起
func NotSupported(ctx context.Context, m *Manager, fn TxFunc) error {
	if m.Transaction(ctx) == nil {
		return run(ctx, fn)
	}
	suspended, err := m.Suspend(ctx)
	if err != nil {
		return err
	}
	err = run(ctx, fn)
	return multierr.Append(err, m.Resume(ctx, suspended))
}

// Never 已有当前事务时失败
func Never(ctx context.Context, m *Manager, fn TxFunc) error {
	if m.Transaction(ctx) != nil {
		return &NotSupportedError{Op: "never", Reason: "a transaction is active"}
	}
	return run(ctx, fn)
}
