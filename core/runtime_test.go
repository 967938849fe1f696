package core_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/tx"
)

type events struct {
	mu  sync.Mutex
	all []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.all = append(e.all, s)
	e.mu.Unlock()
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.all...)
}

// probe 托管服务，注入事务管理器
type probe struct {
	Manager *tx.Manager `di:"transactionManager"`

	started chan struct{}
	log     *events
}

func (p *probe) Start(ctx context.Context) error {
	p.log.add("service.start")
	close(p.started)
	<-ctx.Done()
	return nil
}

func (p *probe) Stop(context.Context) error {
	p.log.add("service.stop")
	return nil
}

type brokenService struct{}

func (*brokenService) Start(context.Context) error { return errors.New("cannot listen") }
func (*brokenService) Stop(context.Context) error  { return nil }

func quiet() core.Option { return core.WithLogOutput(io.Discard) }

func newRuntime(t *testing.T, opts ...core.Option) *core.Runtime {
	t.Helper()
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(append([]core.Option{quiet()}, opts...)...))
	require.NoError(t, rt.Build())
	return rt
}

func TestRuntimeRegistersTransactionManager(t *testing.T) {
	rt := newRuntime(t)

	m, err := di.ResolveNamed[*tx.Manager](rt.Container(), core.TransactionManagerName)
	require.NoError(t, err)
	assert.Same(t, rt.Manager(), m)

	cfg, err := di.Resolve[config.Configuration](rt.Container())
	require.NoError(t, err)
	assert.Same(t, rt.Configuration(), cfg)
}

func TestRuntimeOptionsFromConfiguration(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt := newRuntime(t,
		core.WithMetricsRegisterer(reg),
		core.WithConfiguration(func(b *config.ConfigurationBuilder) {
			b.AddInMemory(map[string]any{
				"ioc": map[string]any{
					"container": map[string]any{"namespace": "shop", "threadSafe": true},
					"transaction": map[string]any{
						"timeout":          "2s",
						"metricsNamespace": "shop",
					},
					"logging": map[string]any{"level": "warn", "provider": "none"},
				},
			})
		}),
	)

	assert.Equal(t, "shop", rt.Container().Namespace())
	assert.True(t, rt.Options().Container.ThreadSafe)
	assert.Equal(t, 2*time.Second, rt.Manager().TransactionTimeout())

	err := tx.Required(context.Background(), rt.Manager(), func(context.Context) error { return nil })
	require.NoError(t, err)
	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "shop_tx_begun_total")
}

func TestRuntimeSealsSettingsAfterBuild(t *testing.T) {
	rt := newRuntime(t)
	err := rt.Apply(core.WithConfiguration(func(*config.ConfigurationBuilder) {}))
	assert.ErrorIs(t, err, core.ErrSealed)
	assert.ErrorIs(t, rt.Apply(core.WithShutdownTimeout(time.Second)), core.ErrSealed)
}

func TestRuntimeBuildFailsOnBadOptions(t *testing.T) {
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(quiet(), core.WithConfiguration(func(b *config.ConfigurationBuilder) {
		b.AddInMemory(map[string]any{"ioc": map[string]any{"container": map[string]any{"threadSafe": "maybe"}}})
	})))
	assert.Error(t, rt.Build())
	assert.Error(t, rt.Run(context.Background()))
}

func TestRuntimeChildContainer(t *testing.T) {
	type Catalog struct{ Items []string }
	rt := newRuntime(t, core.WithChild("catalog", func(c di.Container) error {
		_, err := di.RegisterValue(c, &Catalog{Items: []string{"tea"}}, di.WithName("catalog"))
		return err
	}))

	got, err := di.ResolveNamed[*Catalog](rt.Container(), "catalog")
	require.NoError(t, err)
	assert.Equal(t, []string{"tea"}, got.Items)
	assert.Equal(t, 1, rt.Container().ChildSize())
}

func TestRuntimeRunLifecycle(t *testing.T) {
	log := &events{}
	p := &probe{started: make(chan struct{}), log: log}

	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(
		quiet(),
		core.WithShutdownTimeout(time.Second),
		core.WithHostedService[*probe](di.WithName("probe"), di.WithConstructor(func() *probe { return p })),
		core.WithWorker("worker", func(ctx context.Context) error {
			<-ctx.Done()
			log.add("worker.done")
			return nil
		}),
	))
	rt.Lifecycle.OnStart(func(context.Context) error { log.add("hook1.start"); return nil })
	rt.Lifecycle.OnStart(func(context.Context) error { log.add("hook2.start"); return nil })
	rt.Lifecycle.OnStop(func(context.Context) error { log.add("hook1.stop"); return nil })
	rt.Lifecycle.OnStop(func(context.Context) error { log.add("hook2.stop"); return nil })

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatal("hosted service not started")
	}
	assert.Same(t, rt.Manager(), p.Manager)

	rt.Shutdown()
	require.NoError(t, <-done)

	got := log.list()
	assert.Equal(t, []string{"hook1.start", "hook2.start"}, got[:2])
	assert.Equal(t, []string{"hook2.stop", "hook1.stop"}, got[len(got)-2:])
	assert.Contains(t, got, "service.stop")
	assert.Contains(t, got, "worker.done")

	_, err := rt.Container().GetComponent(core.TransactionManagerName)
	assert.ErrorIs(t, err, di.ErrContainerDestroyed)
}

func TestRuntimeRunStopsWhenContextEnds(t *testing.T) {
	rt := newRuntime(t, core.WithShutdownTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	rt.Lifecycle.OnStart(func(context.Context) error {
		cancel()
		return nil
	})
	assert.NoError(t, rt.Run(ctx))
}

func TestRuntimeHostedServiceFailureStopsRun(t *testing.T) {
	var handled error
	rt := newRuntime(t,
		core.WithShutdownTimeout(time.Second),
		core.WithHostedService[*brokenService](),
	)
	rt.ErrorHandler = func(err error) { handled = err }

	err := rt.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "cannot listen")
	assert.Equal(t, err, handled)
}

func TestRuntimeStartHookFailure(t *testing.T) {
	stopped := false
	rt := newRuntime(t, core.WithShutdownTimeout(time.Second))
	rt.Lifecycle.OnStart(func(context.Context) error { return errors.New("no database") })
	rt.Lifecycle.OnStop(func(context.Context) error { stopped = true; return nil })

	err := rt.Run(context.Background())
	assert.ErrorContains(t, err, "no database")
	assert.True(t, stopped)
}

func TestLifecycleStopContinuesAfterFailure(t *testing.T) {
	l := core.NewLifecycle()
	var order []int
	l.OnStop(func(context.Context) error { order = append(order, 1); return nil })
	l.OnStop(func(context.Context) error { order = append(order, 2); return errors.New("second") })
	l.OnStop(func(context.Context) error { order = append(order, 3); return errors.New("third") })

	err := l.Stop(context.Background())
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.ErrorContains(t, err, "second")
	assert.ErrorContains(t, err, "third")
}
