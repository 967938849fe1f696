package tx_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/ioc/tx"
)

func TestManagerRequiresSlot(t *testing.T) {
	m := tx.NewManager()
	ctx := context.Background()

	assert.False(t, tx.Bound(ctx))
	assert.ErrorIs(t, m.Begin(ctx), tx.ErrIllegalState)
	assert.Equal(t, tx.StatusNoTransaction, m.Status(ctx))
	assert.Nil(t, m.Transaction(ctx))
}

func TestManagerBeginCommit(t *testing.T) {
	m := tx.NewManager()
	ctx := m.Bind(context.Background())
	require.True(t, tx.Bound(ctx))

	assert.ErrorIs(t, m.Commit(ctx), tx.ErrIllegalState)
	assert.ErrorIs(t, m.Rollback(ctx), tx.ErrIllegalState)

	log := &journal{}
	require.NoError(t, m.Begin(ctx))
	assert.Equal(t, tx.StatusActive, m.Status(ctx))
	assert.ErrorIs(t, m.Begin(ctx), tx.ErrNotSupported)

	ok, err := m.EnlistResource(ctx, newFake("a", log))
	require.NoError(t, err)
	assert.True(t, ok)

	var final tx.Status
	require.NoError(t, m.RegisterSynchronization(ctx, tx.SyncFunc{After: func(s tx.Status) { final = s }}))
	require.NoError(t, m.Commit(ctx))
	assert.Equal(t, tx.StatusCommitted, final)
	assert.Nil(t, m.Transaction(ctx))
	assert.Equal(t, tx.StatusNoTransaction, m.Status(ctx))

	// 槽位可以再次使用
	require.NoError(t, m.Begin(ctx))
	require.NoError(t, m.Rollback(ctx))
	assert.Equal(t, []string{"a.commit(true)"}, calls(log, "(true)"))
}

func TestManagerCommitMarkedRollback(t *testing.T) {
	m := tx.NewManager()
	ctx := m.Bind(context.Background())
	log := &journal{}

	require.NoError(t, m.Begin(ctx))
	_, err := m.EnlistResource(ctx, newFake("a", log))
	require.NoError(t, err)
	require.NoError(t, m.SetRollbackOnly(ctx))
	assert.Equal(t, tx.StatusMarkedRollback, m.Status(ctx))

	err = m.Commit(ctx)
	require.ErrorIs(t, err, tx.ErrRollback)
	var re *tx.RollbackError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, tx.StatusRolledBack, re.Status)
	assert.Equal(t, []string{"a.rollback"}, calls(log, "rollback"))
	assert.Nil(t, m.Transaction(ctx))
}

func TestManagerSuspendResume(t *testing.T) {
	m := tx.NewManager()
	ctx := m.Bind(context.Background())
	a := newFake("a", &journal{})

	require.NoError(t, m.Begin(ctx))
	_, err := m.EnlistResource(ctx, a)
	require.NoError(t, err)

	suspended, err := m.Suspend(ctx)
	require.NoError(t, err)
	assert.True(t, suspended.Suspended())
	assert.Nil(t, m.Transaction(ctx))
	assert.Equal(t, []tx.Flag{tx.FlagSuspend}, a.ended)

	// 挂起的事务不能登记新资源
	_, err = suspended.EnlistResource(newFake("b", &journal{}))
	assert.ErrorIs(t, err, tx.ErrIllegalState)

	// 槽位已有事务时不能恢复
	require.NoError(t, m.Begin(ctx))
	assert.ErrorIs(t, m.Resume(ctx, suspended), tx.ErrIllegalState)
	require.NoError(t, m.Rollback(ctx))

	require.NoError(t, m.Resume(ctx, suspended))
	assert.False(t, suspended.Suspended())
	assert.Same(t, suspended, m.Transaction(ctx))
	assert.Equal(t, []tx.Flag{tx.FlagNoFlags, tx.FlagResume}, a.started)

	// 未挂起的事务不能再恢复
	other := m.Bind(context.Background())
	assert.ErrorIs(t, m.Resume(other, suspended), tx.ErrIllegalState)
	assert.ErrorIs(t, m.Resume(other, nil), tx.ErrIllegalState)

	require.NoError(t, m.Commit(ctx))
}

func TestManagerSuspendWithoutTransaction(t *testing.T) {
	m := tx.NewManager()
	ctx := m.Bind(context.Background())
	_, err := m.Suspend(ctx)
	assert.ErrorIs(t, err, tx.ErrIllegalState)
}

func TestManagerSeparateSlots(t *testing.T) {
	m := tx.NewManager()
	first := m.Bind(context.Background())
	second := m.Bind(context.Background())

	require.NoError(t, m.Begin(first))
	assert.Equal(t, tx.StatusNoTransaction, m.Status(second))
	require.NoError(t, m.Begin(second))
	assert.NotSame(t, m.Transaction(first), m.Transaction(second))

	// 派生的 context 共享同一槽位
	child, cancel := context.WithCancel(first)
	defer cancel()
	assert.Same(t, m.Transaction(first), m.Transaction(child))

	require.NoError(t, m.Commit(first))
	require.NoError(t, m.Commit(second))
}

func TestManagerTimeout(t *testing.T) {
	m := tx.NewManager(tx.WithTimeout(time.Minute))
	assert.Equal(t, time.Minute, m.TransactionTimeout())
	m.SetTransactionTimeout(time.Second)
	assert.Equal(t, time.Second, m.TransactionTimeout())
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestManagerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := tx.NewManager(tx.WithMetrics("ioc", reg))
	ctx := m.Bind(context.Background())

	require.NoError(t, m.Begin(ctx))
	require.NoError(t, m.Commit(ctx))

	require.NoError(t, m.Begin(ctx))
	require.NoError(t, m.Rollback(ctx))

	failing := newFake("a", &journal{})
	failing.failOn["commit"] = true
	require.NoError(t, m.Begin(ctx))
	_, err := m.EnlistResource(ctx, failing)
	require.NoError(t, err)
	require.Error(t, m.Commit(ctx))

	assert.Equal(t, float64(3), counterValue(t, reg, "ioc_tx_begun_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "ioc_tx_committed_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "ioc_tx_rolled_back_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "ioc_tx_heuristic_total"))
}
