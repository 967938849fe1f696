package tx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/ioc/tx"
)

func TestRequiredStartsAndCommits(t *testing.T) {
	m := tx.NewManager()
	log := &journal{}

	err := tx.Required(context.Background(), m, func(ctx context.Context) error {
		assert.Equal(t, tx.StatusActive, m.Status(ctx))
		_, err := m.EnlistResource(ctx, newFake("a", log))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.commit(true)"}, calls(log, "(true)"))
}

func TestRequiredRollsBackOnError(t *testing.T) {
	m := tx.NewManager()
	log := &journal{}
	boom := errors.New("boom")

	err := tx.Required(context.Background(), m, func(ctx context.Context) error {
		_, _ = m.EnlistResource(ctx, newFake("a", log))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a.rollback"}, calls(log, "rollback"))
}

func TestRequiredRecoversPanic(t *testing.T) {
	m := tx.NewManager()
	log := &journal{}

	err := tx.Required(context.Background(), m, func(ctx context.Context) error {
		_, _ = m.EnlistResource(ctx, newFake("a", log))
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, []string{"a.rollback"}, calls(log, "rollback"))
}

func TestRequiredJoinsOuterTransaction(t *testing.T) {
	m := tx.NewManager()
	ctx := m.Bind(context.Background())
	require.NoError(t, m.Begin(ctx))
	outer := m.Transaction(ctx)

	require.NoError(t, tx.Required(ctx, m, func(ctx context.Context) error {
		assert.Same(t, outer, m.Transaction(ctx))
		return nil
	}))
	assert.Equal(t, tx.StatusActive, m.Status(ctx))

	err := tx.Required(ctx, m, func(context.Context) error { return errors.New("inner") })
	require.Error(t, err)
	assert.Equal(t, tx.StatusMarkedRollback, m.Status(ctx))
	assert.ErrorIs(t, m.Commit(ctx), tx.ErrRollback)
}

func TestRequiresNewSuspendsOuter(t *testing.T) {
	m := tx.NewManager()
	ctx := m.Bind(context.Background())
	outerRes := newFake("outer", &journal{})
	require.NoError(t, m.Begin(ctx))
	_, err := m.EnlistResource(ctx, outerRes)
	require.NoError(t, err)
	outer := m.Transaction(ctx)

	innerLog := &journal{}
	require.NoError(t, tx.RequiresNew(ctx, m, func(ctx context.Context) error {
		inner := m.Transaction(ctx)
		require.NotNil(t, inner)
		assert.NotSame(t, outer, inner)
		assert.False(t, inner.Xid().SameGlobal(outer.Xid()))
		_, err := m.EnlistResource(ctx, newFake("inner", innerLog))
		return err
	}))

	assert.Same(t, outer, m.Transaction(ctx))
	assert.Equal(t, []tx.Flag{tx.FlagNoFlags, tx.FlagResume}, outerRes.started)
	assert.Equal(t, []string{"inner.commit(true)"}, calls(innerLog, "(true)"))
	require.NoError(t, m.Commit(ctx))
}

func TestMandatory(t *testing.T) {
	m := tx.NewManager()
	called := false
	err := tx.Mandatory(context.Background(), m, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, tx.ErrIllegalState)
	assert.False(t, called)

	ctx := m.Bind(context.Background())
	require.NoError(t, m.Begin(ctx))
	require.NoError(t, tx.Mandatory(ctx, m, func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	require.NoError(t, m.Commit(ctx))
}

func TestNotSupportedSuspends(t *testing.T) {
	m := tx.NewManager()
	ctx := m.Bind(context.Background())
	require.NoError(t, m.Begin(ctx))
	outer := m.Transaction(ctx)

	require.NoError(t, tx.NotSupported(ctx, m, func(ctx context.Context) error {
		assert.Nil(t, m.Transaction(ctx))
		return nil
	}))
	assert.Same(t, outer, m.Transaction(ctx))
	require.NoError(t, m.Rollback(ctx))

	require.NoError(t, tx.NotSupported(context.Background(), m, func(context.Context) error { return nil }))
}

func TestNever(t *testing.T) {
	m := tx.NewManager()
	require.NoError(t, tx.Never(context.Background(), m, func(context.Context) error { return nil }))

	ctx := m.Bind(context.Background())
	require.NoError(t, m.Begin(ctx))
	assert.ErrorIs(t, tx.Never(ctx, m, func(context.Context) error { return nil }), tx.ErrNotSupported)
	require.NoError(t, m.Rollback(ctx))
}
