package cron_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/cron"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/tx"
)

type ticker struct {
	runs atomic.Int32
}

func (t *ticker) Tick(ctx context.Context) error {
	t.runs.Add(1)
	return nil
}

type reporter struct {
	runs atomic.Int32
}

func (r *reporter) Run() { r.runs.Add(1) }

type greeter struct {
	greeted atomic.Int32
}

func newContainer(t *testing.T) di.Container {
	t.Helper()
	c := di.New()
	t.Cleanup(c.Destroy)
	return c
}

func stop(t *testing.T, s *cron.Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerRunsAnnotatedComponents(t *testing.T) {
	c := newContainer(t)
	_, err := di.Register[*ticker](c, di.WithName("ticker"),
		di.WithMeta(cron.MetaSpec, "@every 1s"), di.WithMeta(cron.MetaMethod, "Tick"))
	require.NoError(t, err)
	_, err = di.Register[*reporter](c, di.WithMeta(cron.MetaSpec, "@every 1s"))
	require.NoError(t, err)

	s := cron.NewScheduler(c, nil)
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	assert.Equal(t, []string{"*cron_test.reporter.Run", "ticker.Tick"}, s.Jobs())
	next, ok := s.Next("ticker.Tick")
	require.True(t, ok)
	assert.False(t, next.IsZero())

	tk, err := di.ResolveNamed[*ticker](c, "ticker")
	require.NoError(t, err)
	rp, err := di.Resolve[*reporter](c)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return tk.runs.Load() > 0 && rp.runs.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSchedulerScansChildContainers(t *testing.T) {
	root := newContainer(t)
	child := di.New(di.WithNamespace("jobs"))
	_, err := di.Register[*reporter](child, di.WithName("nightly"), di.WithMeta(cron.MetaSpec, "0 2 * * *"))
	require.NoError(t, err)
	require.NoError(t, root.Include(child))

	s := cron.NewScheduler(root, nil)
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)
	assert.Equal(t, []string{"nightly.Run"}, s.Jobs())
}

func TestSchedulerResolvesHandlerArguments(t *testing.T) {
	c := newContainer(t)
	_, err := di.Register[*greeter](c)
	require.NoError(t, err)

	s := cron.NewScheduler(c, nil, cron.WithSeconds())
	require.NoError(t, s.AddJob("* * * * * *", "greet", func(ctx context.Context, g *greeter) error {
		if ctx == nil {
			return errors.New("missing context")
		}
		g.greeted.Add(1)
		return nil
	}))
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	g, err := di.Resolve[*greeter](c)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return g.greeted.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestSchedulerRecoversFromPanics(t *testing.T) {
	var runs atomic.Int32
	s := cron.NewScheduler(nil, nil)
	require.NoError(t, s.AddJob("@every 1s", "explode", func() {
		runs.Add(1)
		panic("boom")
	}))
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
}

func TestSchedulerJobsAddedAfterStart(t *testing.T) {
	s := cron.NewScheduler(nil, nil)
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	require.NoError(t, s.AddJob("@hourly", "later", func() {}))
	assert.Equal(t, []string{"later"}, s.Jobs())
	assert.Error(t, s.AddJob("@hourly", "later", func() {}))

	s.RemoveJob("later")
	assert.Empty(t, s.Jobs())
	_, ok := s.Next("later")
	assert.False(t, ok)
}

func TestSchedulerRejectsBadJobs(t *testing.T) {
	s := cron.NewScheduler(nil, nil)
	assert.Error(t, s.AddJob("@hourly", "not-a-func", 42))

	require.NoError(t, s.AddJob("not a spec", "bad", func() {}))
	err := s.Start(context.Background())
	assert.ErrorContains(t, err, "failed to add job 'bad'")

	c := newContainer(t)
	_, err = di.Register[*ticker](c, di.WithName("ticker"),
		di.WithMeta(cron.MetaSpec, "@hourly"), di.WithMeta(cron.MetaMethod, "Missing"))
	require.NoError(t, err)
	err = cron.NewScheduler(c, nil).Start(context.Background())
	assert.ErrorContains(t, err, "no method Missing")

	c2 := newContainer(t)
	_, err = di.Register[*ticker](c2, di.WithMeta(cron.MetaSpec, 5))
	require.NoError(t, err)
	err = cron.NewScheduler(c2, nil).Start(context.Background())
	assert.ErrorContains(t, err, "must be a string")
}

func TestSchedulerBindsTransactionSlot(t *testing.T) {
	m := tx.NewManager()
	seen := make(chan error, 1)
	s := cron.NewScheduler(nil, nil, cron.WithSeconds(), cron.WithTransactionManager(m))
	require.NoError(t, s.AddJob("* * * * * *", "tx", func(ctx context.Context) error {
		err := m.Begin(ctx)
		if err == nil {
			err = m.Commit(ctx)
		}
		select {
		case seen <- err:
		default:
		}
		return err
	}))
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	select {
	case err := <-seen:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestCronOptionRegistersHostedScheduler(t *testing.T) {
	var runs atomic.Int32
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(
		core.WithLogOutput(io.Discard),
		core.WithShutdownTimeout(2*time.Second),
		cron.New([]cron.Job{{Spec: "@every 1s", Name: "count", Handler: func() { runs.Add(1) }}}),
	))

	s, err := di.ResolveNamed[*cron.Scheduler](rt.Container(), cron.SchedulerName)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"count"}, s.Jobs())

	rt.Shutdown()
	err = <-done
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
}
