package tx

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/gocrud/ioc/logging"
)

// Transaction 一个工作单元：登记的资源、同步回调与事务级资源表。
//
// Commit 与 Rollback 结束后事务总会被重置为 NO_TRANSACTION，同一对象可以再次 Begin。
// Transaction 不是并发安全的，同一时刻只应由一个调用方使用。
type Transaction struct {
	cfg *config

	xid         Xid
	status      Status
	enlistments []*Enlistment
	syncs       []Synchronization
	interposed  []Synchronization
	resources   map[any]any
	suspended   bool
	branches    uint32

	// errs 本次提交或回滚中累积的失败
	errs error
}

func newTransaction(cfg *config) *Transaction {
	return &Transaction{cfg: cfg}
}

func (t *Transaction) logger() logging.Logger { return t.cfg.logger }

func (t *Transaction) Xid() Xid        { return t.xid }
func (t *Transaction) Status() Status  { return t.status }
func (t *Transaction) Suspended() bool { return t.suspended }

// Enlistments 返回当前登记的资源副本
func (t *Transaction) Enlistments() []*Enlistment {
	return append([]*Enlistment(nil), t.enlistments...)
}

// Synchronizations 返回普通与插入式回调的数量
func (t *Transaction) Synchronizations() (regular, interposed int) {
	return len(t.syncs), len(t.interposed)
}

// Begin 分配新的全局 Xid 并进入 ACTIVE
func (t *Transaction) Begin() error {
	if t.status != StatusNoTransaction {
		return &IllegalStateError{Op: "begin", Status: t.status}
	}
	t.xid = newXid()
	t.status = StatusActive
	t.cfg.metrics.begun()
	t.logger().Debug("transaction begun", logging.F("xid", t.xid.String()))
	return nil
}

func (t *Transaction) assertNotSuspended(op string) error {
	if t.suspended {
		return &IllegalStateError{Op: op, Status: t.status, Reason: "transaction is suspended"}
	}
	return nil
}

func (t *Transaction) assertActive(op string) error {
	if err := t.assertNotSuspended(op); err != nil {
		return err
	}
	if t.status != StatusActive {
		return &IllegalStateError{Op: op, Status: t.status}
	}
	return nil
}

func (t *Transaction) assertActiveOrMarked(op string) error {
	if err := t.assertNotSuspended(op); err != nil {
		return err
	}
	if !t.status.activeOrMarked() {
		return &IllegalStateError{Op: op, Status: t.status}
	}
	return nil
}

// EnlistResource 登记资源。
//
// 同一资源重复登记返回 false；与已登记资源属于同一资源管理器时以 JOIN 加入其分支，
// 否则分配新的分支 Xid。
func (t *Transaction) EnlistResource(r Resource) (bool, error) {
	if err := t.assertActiveOrMarked("enlist"); err != nil {
		return false, err
	}
	for _, e := range t.enlistments {
		if e.resource == r {
			return false, nil
		}
	}

	if joinable(r, t.cfg.nonJoinable) {
		for _, e := range t.enlistments {
			same, err := e.resource.IsSameRM(r)
			if err != nil {
				return false, &SystemError{Op: "enlist", Cause: err}
			}
			if !same {
				continue
			}
			if err := r.Start(e.xid, FlagJoin); err != nil {
				return false, &SystemError{Op: "enlist", Cause: err}
			}
			t.enlistments = append(t.enlistments, &Enlistment{resource: r, xid: e.xid, voteOK: true})
			return true, nil
		}
	}

	t.branches++
	xid := t.xid.branch(t.branches)
	if err := r.Start(xid, FlagNoFlags); err != nil {
		return false, &SystemError{Op: "enlist", Cause: err}
	}
	t.enlistments = append(t.enlistments, &Enlistment{resource: r, xid: xid, commitTarget: true, voteOK: true})
	return true, nil
}

// DelistResource 以给定标志结束资源的分支，资源仍保持登记
func (t *Transaction) DelistResource(r Resource, flag Flag) (bool, error) {
	if err := t.assertActiveOrMarked("delist"); err != nil {
		return false, err
	}
	for _, e := range t.enlistments {
		if e.resource != r {
			continue
		}
		if err := e.end(flag); err != nil {
			t.status = StatusMarkedRollback
			return false, &SystemError{Op: "delist", Cause: err}
		}
		return true, nil
	}
	return false, nil
}

func (t *Transaction) RegisterSynchronization(s Synchronization) error {
	if err := t.assertActive("register synchronization"); err != nil {
		return err
	}
	t.syncs = append(t.syncs, s)
	return nil
}

// RegisterInterposedSynchronization 插入式回调在普通回调之后执行 BeforeCompletion，之前执行 AfterCompletion
func (t *Transaction) RegisterInterposedSynchronization(s Synchronization) error {
	if err := t.assertActive("register synchronization"); err != nil {
		return err
	}
	t.interposed = append(t.interposed, s)
	return nil
}

// PutResource 在事务级资源表中保存值
func (t *Transaction) PutResource(key, value any) {
	if t.resources == nil {
		t.resources = make(map[any]any)
	}
	t.resources[key] = value
}

func (t *Transaction) Resource(key any) any { return t.resources[key] }

func (t *Transaction) SetRollbackOnly() error {
	if err := t.assertActiveOrMarked("set rollback only"); err != nil {
		return err
	}
	t.status = StatusMarkedRollback
	return nil
}

// Commit 执行提交。最终状态不是 COMMITTED 时返回 *RollbackError
func (t *Transaction) Commit() error {
	if err := t.assertActive("commit"); err != nil {
		return err
	}
	defer t.destroy()

	t.beforeCompletion()
	if t.status == StatusActive {
		t.endResources(FlagSuccess)
		if t.status == StatusMarkedRollback {
			t.rollbackResources()
		} else {
			t.complete()
		}
	}

	final := t.status
	t.afterCompletion(final)
	t.cfg.metrics.finished(final)

	if final != StatusCommitted {
		return t.rollbackError(final)
	}
	t.logger().Debug("transaction committed", logging.F("xid", t.xid.String()))
	return nil
}

// complete 按提交目标的数量选择提交方式
func (t *Transaction) complete() {
	targets := t.commitTargets()
	switch len(targets) {
	case 0:
		t.status = StatusCommitted
	case 1:
		t.commitOnePhase(targets[0])
	default:
		switch t.prepareResources(targets) {
		case VoteReadOnly:
			t.status = StatusCommitted
		case VoteOK:
			t.commitTwoPhase()
		default:
			t.rollbackVotedOK()
		}
	}
}

func (t *Transaction) commitTargets() []*Enlistment {
	var out []*Enlistment
	for _, e := range t.enlistments {
		if e.commitTarget {
			out = append(out, e)
		}
	}
	return out
}

func (t *Transaction) commitOnePhase(e *Enlistment) {
	t.status = StatusCommitting
	if err := e.commit(true); err != nil {
		t.fail("commit", e, err)
		t.status = StatusUnknown
		return
	}
	t.status = StatusCommitted
}

// prepareResources 逆序征求投票。逆序的最后一个资源不投票，直接一阶段提交；
// 任何否决都会使它以及尚未处理的资源标记为未投 OK。
func (t *Transaction) prepareResources(targets []*Enlistment) Vote {
	t.status = StatusPreparing
	vote := VoteReadOnly
	for i := len(targets) - 1; i >= 0; i-- {
		e := targets[i]
		if i == 0 {
			if err := e.commit(true); err != nil {
				t.fail("commit", e, err)
				e.voteOK = false
				vote = VoteRollback
				break
			}
			// 已提交，不再参与第二阶段
			e.voteOK = false
			vote = VoteOK
			break
		}

		v, err := e.prepare()
		if err != nil || v == VoteRollback {
			if err == nil {
				err = fmt.Errorf("resource voted rollback")
			}
			t.fail("prepare", e, err)
			vote = VoteRollback
			for j := i; j >= 0; j-- {
				targets[j].voteOK = false
			}
			break
		}
		if v == VoteReadOnly {
			e.voteOK = false
			continue
		}
		vote = VoteOK
	}
	t.status = StatusPrepared
	return vote
}

func (t *Transaction) commitTwoPhase() {
	t.status = StatusCommitting
	for _, e := range t.enlistments {
		if !e.commitTarget || !e.voteOK {
			continue
		}
		if err := e.commit(false); err != nil {
			t.fail("commit", e, err)
			t.status = StatusUnknown
		}
	}
	if t.status == StatusCommitting {
		t.status = StatusCommitted
	}
}

func (t *Transaction) rollbackVotedOK() {
	t.status = StatusRollingBack
	for _, e := range t.enlistments {
		if !e.commitTarget || !e.voteOK {
			continue
		}
		if err := e.rollback(); err != nil {
			t.fail("rollback", e, err)
			t.status = StatusUnknown
		}
	}
	if t.status == StatusRollingBack {
		t.status = StatusRolledBack
	}
}

// rollbackResources 回滚全部提交目标
func (t *Transaction) rollbackResources() {
	t.status = StatusRollingBack
	for _, e := range t.enlistments {
		if !e.commitTarget {
			continue
		}
		if err := e.rollback(); err != nil {
			t.fail("rollback", e, err)
			t.status = StatusUnknown
		}
	}
	if t.status == StatusRollingBack {
		t.status = StatusRolledBack
	}
}

// endResources 结束全部分支。SUCCESS 结束失败时事务标记为回滚，但每个资源都会被处理
func (t *Transaction) endResources(flag Flag) {
	for _, e := range t.enlistments {
		if err := e.end(flag); err != nil {
			t.fail("end", e, err)
			if t.status == StatusActive {
				t.status = StatusMarkedRollback
			}
		}
	}
}

// Rollback 结束并回滚全部分支
func (t *Transaction) Rollback() error {
	if err := t.assertActiveOrMarked("rollback"); err != nil {
		return err
	}
	defer t.destroy()

	t.endResources(FlagFail)
	t.rollbackResources()
	final := t.status
	t.afterCompletion(final)
	t.cfg.metrics.finished(final)

	if t.errs != nil {
		return &SystemError{Op: "rollback", Cause: multierr.Errors(t.errs)[0], Detail: t.errs}
	}
	t.logger().Debug("transaction rolled back", logging.F("xid", t.xid.String()))
	return nil
}

// suspend 以 SUSPEND 结束全部分支
func (t *Transaction) suspend() error {
	if err := t.assertActiveOrMarked("suspend"); err != nil {
		return err
	}
	var errs error
	for _, e := range t.enlistments {
		errs = multierr.Append(errs, e.end(FlagSuspend))
	}
	if errs != nil {
		return &SystemError{Op: "suspend", Cause: multierr.Errors(errs)[0], Detail: errs}
	}
	t.suspended = true
	return nil
}

// resume 以 RESUME 重新开始全部分支
func (t *Transaction) resume() error {
	if !t.suspended {
		return &IllegalStateError{Op: "resume", Status: t.status, Reason: "transaction is not suspended"}
	}
	if !t.status.activeOrMarked() {
		return &IllegalStateError{Op: "resume", Status: t.status}
	}
	var errs error
	for _, e := range t.enlistments {
		errs = multierr.Append(errs, e.start(FlagResume))
	}
	if errs != nil {
		return &SystemError{Op: "resume", Cause: multierr.Errors(errs)[0], Detail: errs}
	}
	t.suspended = false
	return nil
}

func (t *Transaction) beforeCompletion() {
	for i := 0; i < len(t.syncs) && t.status == StatusActive; i++ {
		t.runBefore(t.syncs[i])
	}
	for i := 0; i < len(t.interposed) && t.status == StatusActive; i++ {
		t.runBefore(t.interposed[i])
	}
}

// runBefore 回调失败时事务标记回滚，以 FAIL 结束分支并立即回滚提交目标
func (t *Transaction) runBefore(s Synchronization) {
	err := safely(s.BeforeCompletion)
	if err == nil {
		return
	}
	t.errs = multierr.Append(t.errs, fmt.Errorf("before completion: %w", err))
	t.logger().Error("before completion failed",
		logging.F("xid", t.xid.String()), logging.Err(err))
	t.status = StatusMarkedRollback
	t.endResources(FlagFail)
	t.rollbackResources()
}

// afterCompletion 先插入式回调再普通回调，失败只记录日志
func (t *Transaction) afterCompletion(status Status) {
	run := func(s Synchronization) {
		err := safely(func() error {
			s.AfterCompletion(status)
			return nil
		})
		if err != nil {
			t.logger().Error("after completion failed",
				logging.F("xid", t.xid.String()), logging.Err(err))
		}
	}
	for _, s := range t.interposed {
		run(s)
	}
	for _, s := range t.syncs {
		run(s)
	}
}

func (t *Transaction) fail(op string, e *Enlistment, err error) {
	t.errs = multierr.Append(t.errs, fmt.Errorf("%s %s: %w", op, e.xid, err))
}

func (t *Transaction) rollbackError(final Status) error {
	if final == StatusUnknown {
		t.logger().Warn("transaction outcome is unknown",
			logging.F("xid", t.xid.String()), logging.Err(t.errs))
	}
	re := &RollbackError{Xid: t.xid, Status: final, Detail: t.errs}
	if errs := multierr.Errors(t.errs); len(errs) > 0 {
		re.Cause = errs[0]
	}
	return re
}

// destroy 清空全部状态，之后事务可以重新 Begin
func (t *Transaction) destroy() {
	t.xid = Xid{}
	t.status = StatusNoTransaction
	t.enlistments = nil
	t.syncs = nil
	t.interposed = nil
	t.resources = nil
	t.suspended = false
	t.branches = 0
	t.errs = nil
}

// safely 把 panic 转换为错误
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic: %w", e)
				return
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
