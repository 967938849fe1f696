package tx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocrud/ioc/logging"
)

// Manager 维护每个逻辑执行流的当前事务。
//
// 当前事务保存在 context 携带的槽位中，由 Bind 创建。共享同一个槽位的调用方共享当前事务，
// 在不同执行流之间移交事务只能通过 Suspend 与 Resume。
type Manager struct {
	cfg     *config
	timeout atomic.Int64
}

// NewManager 创建事务管理器
func NewManager(opts ...Option) *Manager {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(o)
	}
	cfg := &config{
		logger:      o.logger.WithCategory("tx"),
		nonJoinable: o.nonJoinable,
	}
	if o.registerer != nil {
		cfg.metrics = newMetrics(o.namespace, o.registerer)
	}
	m := &Manager{cfg: cfg}
	m.timeout.Store(int64(o.timeout))
	return m
}

type slotKey struct{}

// slot 一个逻辑执行流的当前事务
type slot struct {
	mu sync.Mutex
	tx *Transaction
}

// Bind 返回带有空事务槽位的 context
func (m *Manager) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, slotKey{}, &slot{})
}

// Bound 判断 ctx 是否已经带有事务槽位
func Bound(ctx context.Context) bool {
	_, ok := ctx.Value(slotKey{}).(*slot)
	return ok
}

func slotOf(ctx context.Context, op string) (*slot, error) {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return nil, &IllegalStateError{Op: op, Status: StatusNoTransaction, Reason: "context has no transaction slot"}
	}
	return s, nil
}

// NewTransaction 创建一个未开始的事务，共享管理器的配置
func (m *Manager) NewTransaction() *Transaction {
	return newTransaction(m.cfg)
}

// Begin 开始新事务。槽位中已有事务时返回 ErrNotSupported，不做隐式挂起
func (m *Manager) Begin(ctx context.Context) error {
	s, err := slotOf(ctx, "begin")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return &NotSupportedError{Op: "begin", Reason: "nested transactions are not supported"}
	}
	t := newTransaction(m.cfg)
	if err := t.Begin(); err != nil {
		return err
	}
	s.tx = t
	return nil
}

// current 取出当前事务，没有时返回 illegal-state
func (m *Manager) current(ctx context.Context, op string) (*slot, *Transaction, error) {
	s, err := slotOf(ctx, op)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	t := s.tx
	s.mu.Unlock()
	if t == nil {
		return nil, nil, &IllegalStateError{Op: op, Status: StatusNoTransaction, Reason: "no transaction is active"}
	}
	return s, t, nil
}

func (s *slot) clear(t *Transaction) {
	s.mu.Lock()
	if s.tx == t {
		s.tx = nil
	}
	s.mu.Unlock()
}

// Commit 提交当前事务。已标记回滚的事务会被回滚，并返回 *RollbackError
func (m *Manager) Commit(ctx context.Context) error {
	s, t, err := m.current(ctx, "commit")
	if err != nil {
		return err
	}
	defer s.clear(t)

	if t.Status() == StatusMarkedRollback {
		xid := t.Xid()
		if err := t.Rollback(); err != nil {
			return &RollbackError{Xid: xid, Status: StatusUnknown, Cause: err, Detail: err}
		}
		return &RollbackError{Xid: xid, Status: StatusRolledBack}
	}
	return t.Commit()
}

func (m *Manager) Rollback(ctx context.Context) error {
	s, t, err := m.current(ctx, "rollback")
	if err != nil {
		return err
	}
	defer s.clear(t)
	return t.Rollback()
}

func (m *Manager) SetRollbackOnly(ctx context.Context) error {
	_, t, err := m.current(ctx, "set rollback only")
	if err != nil {
		return err
	}
	return t.SetRollbackOnly()
}

// Status 没有当前事务时返回 StatusNoTransaction
func (m *Manager) Status(ctx context.Context) Status {
	if t := m.Transaction(ctx); t != nil {
		return t.Status()
	}
	return StatusNoTransaction
}

// Transaction 返回当前事务，没有时为 nil
func (m *Manager) Transaction(ctx context.Context) *Transaction {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx
}

// Suspend 挂起当前事务的全部分支，并把事务从槽位中取下
func (m *Manager) Suspend(ctx context.Context) (*Transaction, error) {
	s, t, err := m.current(ctx, "suspend")
	if err != nil {
		return nil, err
	}
	if err := t.suspend(); err != nil {
		return nil, err
	}
	s.clear(t)
	m.cfg.logger.Debug("transaction suspended", logging.F("xid", t.Xid().String()))
	return t, nil
}

// Resume 把挂起的事务放回槽位。槽位中已有事务时失败
func (m *Manager) Resume(ctx context.Context, t *Transaction) error {
	s, err := slotOf(ctx, "resume")
	if err != nil {
		return err
	}
	if t == nil {
		return &IllegalStateError{Op: "resume", Status: StatusNoTransaction, Reason: "nil transaction"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return &IllegalStateError{Op: "resume", Status: s.tx.Status(), Reason: "a transaction is already active"}
	}
	if err := t.resume(); err != nil {
		return err
	}
	s.tx = t
	return nil
}

// EnlistResource 把资源登记到当前事务
func (m *Manager) EnlistResource(ctx context.Context, r Resource) (bool, error) {
	_, t, err := m.current(ctx, "enlist")
	if err != nil {
		return false, err
	}
	return t.EnlistResource(r)
}

// RegisterSynchronization 向当前事务注册回调
func (m *Manager) RegisterSynchronization(ctx context.Context, s Synchronization) error {
	_, t, err := m.current(ctx, "register synchronization")
	if err != nil {
		return err
	}
	return t.RegisterSynchronization(s)
}

// SetTransactionTimeout 记录超时设置，提交路径上不做强制
func (m *Manager) SetTransactionTimeout(d time.Duration) {
	m.timeout.Store(int64(d))
}

func (m *Manager) TransactionTimeout() time.Duration {
	return time.Duration(m.timeout.Load())
}
